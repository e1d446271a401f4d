package directory

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/medigate/navigator/internal/domain/entities"
	"github.com/medigate/navigator/internal/domain/repositories"
	"github.com/medigate/navigator/pkg/config"
	apperrors "github.com/medigate/navigator/pkg/errors"
)

const earthRadiusKm = 6371.0

// closingSoonThresholdMin is how many minutes before reception close a
// clinic is flagged as closing soon.
const closingSoonThresholdMin = 30

// openingSoonThresholdMin is how close the next reception start must be to
// earn the "soon" prefix on its label.
const openingSoonThresholdMin = 15

var weekdayJP = [7]string{"日", "月", "火", "水", "木", "金", "土"}

// CSVDirectory is an immutable-after-load clinic directory backed by a flat
// CSV dataset. All queries are sequential scans with per-row distance
// computation; the dataset is small enough that no spatial index is needed.
type CSVDirectory struct {
	clinics []entities.Clinic
	byID    map[string]int
	bounds  config.DirectoryConfig
	loc     *time.Location

	// now is swappable so tests can pin reception-status computation
	now func() time.Time
}

// NewFromFile loads the clinic dataset from a CSV file
func NewFromFile(path string, bounds config.DirectoryConfig) (*CSVDirectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open clinic dataset: %w", err)
	}
	defer f.Close()
	return NewFromReader(f, bounds)
}

// NewFromReader loads the clinic dataset from any CSV stream
func NewFromReader(r io.Reader, bounds config.DirectoryConfig) (*CSVDirectory, error) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		return nil, fmt.Errorf("failed to load JST location: %w", err)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{"id", "name", "address", "latitude", "longitude"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("clinic dataset missing column %q", required)
		}
	}

	d := &CSVDirectory{
		byID:   make(map[string]int),
		bounds: bounds,
		loc:    loc,
		now:    func() time.Time { return time.Now().In(loc) },
	}

	field := func(row []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset row %d: %w", line, err)
		}

		lat, latErr := strconv.ParseFloat(field(row, "latitude"), 64)
		lng, lngErr := strconv.ParseFloat(field(row, "longitude"), 64)
		if latErr != nil || lngErr != nil {
			// Rows without usable coordinates cannot serve proximity queries
			continue
		}

		clinic := entities.Clinic{
			ID:      field(row, "id"),
			Name:    field(row, "name"),
			Address: field(row, "address"),
			Location: entities.Location{
				Latitude:  lat,
				Longitude: lng,
			},
			Category: parseCategory(field(row, "category")),
			Website:  field(row, "website"),
		}
		if depts := field(row, "departments"); depts != "" {
			for _, dep := range strings.Split(depts, "/") {
				if dep = strings.TrimSpace(dep); dep != "" {
					clinic.Departments = append(clinic.Departments, dep)
				}
			}
		}
		for day := 0; day < 7; day++ {
			prefix := [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}[day]
			clinic.Hours[day] = entities.ReceptionWindow{
				Open:  field(row, prefix+"_open"),
				Close: field(row, prefix+"_close"),
			}
		}
		if clinic.ID == "" {
			clinic.ID = fmt.Sprintf("row-%d", line)
		}

		d.byID[clinic.ID] = len(d.clinics)
		d.clinics = append(d.clinics, clinic)
	}

	if len(d.clinics) == 0 {
		return nil, fmt.Errorf("clinic dataset contains no usable rows")
	}

	return d, nil
}

func parseCategory(s string) entities.ClinicCategory {
	if strings.EqualFold(s, string(entities.CategoryHospital)) {
		return entities.CategoryHospital
	}
	return entities.CategoryClinic
}

// Size returns the number of loaded clinic records
func (d *CSVDirectory) Size() int {
	return len(d.clinics)
}

// GetByID retrieves one clinic record
func (d *CSVDirectory) GetByID(_ context.Context, id string) (*entities.Clinic, error) {
	idx, ok := d.byID[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("clinic %s not found", id))
	}
	clinic := d.clinics[idx]
	return &clinic, nil
}

// ClampRadius clamps a requested radius (meters) into the configured bounds.
// Zero selects the default.
func (d *CSVDirectory) ClampRadius(radiusM int) int {
	if radiusM == 0 {
		radiusM = d.bounds.DefaultRadiusM
	}
	if radiusM < d.bounds.MinRadiusM {
		radiusM = d.bounds.MinRadiusM
	}
	if radiusM > d.bounds.MaxRadiusM {
		radiusM = d.bounds.MaxRadiusM
	}
	return radiusM
}

// ClampResults clamps a requested result count into the configured bounds.
// Zero selects the default.
func (d *CSVDirectory) ClampResults(n int) int {
	if n == 0 {
		n = d.bounds.DefaultResults
	}
	if n < d.bounds.MinResults {
		n = d.bounds.MinResults
	}
	if n > d.bounds.MaxResults {
		n = d.bounds.MaxResults
	}
	return n
}

// Query implements repositories.ClinicDirectory
func (d *CSVDirectory) Query(_ context.Context, params repositories.QueryParams) ([]entities.ClinicMatch, error) {
	radiusM := d.ClampRadius(params.RadiusMeters)
	limit := d.ClampResults(params.MaxResults)
	radiusKm := float64(radiusM) / 1000.0
	now := d.now()

	type scored struct {
		match        entities.ClinicMatch
		deptPriority int
		closeSort    int
	}

	var hits []scored
	for i := range d.clinics {
		clinic := &d.clinics[i]

		dist := haversineKm(params.Origin, clinic.Location)
		if dist > radiusKm {
			continue
		}
		if excludedByName(clinic.Name, params.ExcludeNameKeywords) {
			continue
		}
		priority := departmentPriority(clinic.Departments, params.DepartmentKeywords)
		if len(params.DepartmentKeywords) > 0 && priority < 0 {
			continue
		}
		if matchesAnyDepartment(clinic.Departments, params.ExcludeDepartments) {
			continue
		}

		minutes := minutesToClose(clinic, now)
		if params.OnlyAcceptingNow && minutes == nil {
			continue
		}

		match := entities.ClinicMatch{
			Clinic:          *clinic,
			DistanceKm:      dist,
			ReceptionStatus: receptionStatus(clinic, minutes),
			MinutesToClose:  minutes,
			NextOpenLabel:   nextOpenLabel(clinic, now),
		}

		closeSort := math.MaxInt32
		if minutes != nil {
			closeSort = *minutes
		}
		if priority < 0 {
			priority = math.MaxInt32
		}
		hits = append(hits, scored{match: match, deptPriority: priority, closeSort: closeSort})
	}

	if len(hits) == 0 {
		return nil, apperrors.NewEmptyResultError(
			fmt.Sprintf("no clinics within %dm of the selected origin; try widening the radius", radiusM))
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].deptPriority != hits[j].deptPriority {
			return hits[i].deptPriority < hits[j].deptPriority
		}
		if hits[i].closeSort != hits[j].closeSort {
			return hits[i].closeSort < hits[j].closeSort
		}
		return hits[i].match.DistanceKm < hits[j].match.DistanceKm
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}

	matches := make([]entities.ClinicMatch, len(hits))
	for i, h := range hits {
		matches[i] = h.match
	}
	return matches, nil
}

// haversineKm computes the great-circle distance between two points
func haversineKm(from, to entities.Location) float64 {
	lat1 := toRadians(from.Latitude)
	lat2 := toRadians(to.Latitude)
	deltaLat := toRadians(to.Latitude - from.Latitude)
	deltaLon := toRadians(to.Longitude - from.Longitude)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// departmentPriority returns the index of the first keyword the clinic's
// departments match, or -1 when none match. Lower index means the clinic
// serves a higher-priority recommended department.
func departmentPriority(departments, keywords []string) int {
	if len(keywords) == 0 {
		return 0
	}
	for i, kw := range keywords {
		if kw == "" {
			continue
		}
		for _, dep := range departments {
			if strings.Contains(dep, kw) {
				return i
			}
		}
	}
	return -1
}

func matchesAnyDepartment(departments, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		for _, dep := range departments {
			if strings.Contains(dep, kw) {
				return true
			}
		}
	}
	return false
}

func excludedByName(name string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// parseHHMM accepts "9:30", "09:30", "930" and "0930"
func parseHHMM(s string) (hour, minute int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false
	}

	if strings.Contains(s, ":") {
		parts := strings.SplitN(s, ":", 2)
		h, errH := strconv.Atoi(parts[0])
		m, errM := strconv.Atoi(parts[1])
		if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
			return 0, 0, false
		}
		return h, m, true
	}

	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	ds := digits.String()
	if len(ds) == 3 {
		ds = "0" + ds
	}
	if len(ds) != 4 {
		return 0, 0, false
	}
	h, _ := strconv.Atoi(ds[:2])
	m, _ := strconv.Atoi(ds[2:])
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

// window resolves a clinic's reception window on a given date, handling
// spans that cross midnight. Returns ok=false when the day has no usable
// window.
func window(clinic *entities.Clinic, day time.Time) (start, end time.Time, ok bool) {
	w := clinic.Hours[int(day.Weekday())]
	if w.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	oh, om, okOpen := parseHHMM(w.Open)
	ch, cm, okClose := parseHHMM(w.Close)
	if !okOpen || !okClose {
		return time.Time{}, time.Time{}, false
	}
	start = time.Date(day.Year(), day.Month(), day.Day(), oh, om, 0, 0, day.Location())
	end = time.Date(day.Year(), day.Month(), day.Day(), ch, cm, 0, 0, day.Location())
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end, true
}

// minutesToClose returns the remaining reception minutes when now falls
// inside today's window, or nil when the clinic is outside reception hours
// or has no data for today.
func minutesToClose(clinic *entities.Clinic, now time.Time) *int {
	start, end, ok := window(clinic, now)
	if !ok {
		return nil
	}
	if now.Before(start) || now.After(end) {
		return nil
	}
	mins := int(end.Sub(now).Minutes())
	if mins < 0 {
		mins = 0
	}
	return &mins
}

func receptionStatus(clinic *entities.Clinic, minutes *int) entities.ReceptionStatus {
	if minutes != nil {
		if *minutes <= closingSoonThresholdMin {
			return entities.ReceptionClosingSoon
		}
		return entities.ReceptionOpen
	}
	for day := 0; day < 7; day++ {
		if !clinic.Hours[day].IsZero() {
			return entities.ReceptionClosed
		}
	}
	return entities.ReceptionUnknown
}

// nextOpenLabel renders when reception next starts, up to 7 days out:
// 本日/明日/X曜日 HH:MM〜, prefixed with まもなく when the start is imminent.
// Empty while reception is currently open or when no data exists.
func nextOpenLabel(clinic *entities.Clinic, now time.Time) string {
	for offset := 0; offset < 7; offset++ {
		day := now.AddDate(0, 0, offset)
		start, end, ok := window(clinic, day)
		if !ok {
			continue
		}

		if offset == 0 {
			if !now.Before(start) && !now.After(end) {
				// reception is open right now
				return ""
			}
			if now.After(end) {
				continue
			}
		}

		var dayLabel string
		switch offset {
		case 0:
			dayLabel = "本日"
		case 1:
			dayLabel = "明日"
		default:
			dayLabel = weekdayJP[int(start.Weekday())] + "曜日"
		}

		prefix := ""
		if delta := start.Sub(now); delta >= 0 && delta <= openingSoonThresholdMin*time.Minute {
			prefix = "まもなく "
		}
		return fmt.Sprintf("%s%s %s〜", prefix, dayLabel, start.Format("15:04"))
	}
	return ""
}
