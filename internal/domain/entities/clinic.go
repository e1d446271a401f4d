package entities

// ClinicCategory distinguishes hospitals from clinics
type ClinicCategory string

const (
	CategoryHospital ClinicCategory = "hospital"
	CategoryClinic   ClinicCategory = "clinic"
)

// Clinic represents a medical facility in the directory
type Clinic struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Address     string         `json:"address"`
	Location    Location       `json:"location"`
	Category    ClinicCategory `json:"category"`
	Departments []string       `json:"departments"`
	Website     string         `json:"website,omitempty"`

	// Hours holds outpatient reception windows indexed by time.Weekday
	// (Sunday=0). A zero window means no reception data for that day.
	Hours [7]ReceptionWindow `json:"hours"`
}

// ReceptionWindow is one day's outpatient reception span in "HH:MM" form
type ReceptionWindow struct {
	Open  string `json:"open,omitempty"`
	Close string `json:"close,omitempty"`
}

// IsZero reports whether no reception data exists for the day
func (w ReceptionWindow) IsZero() bool {
	return w.Open == "" || w.Close == ""
}

// Location represents geographical coordinates
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ReceptionStatus describes whether a clinic is currently accepting
// outpatients
type ReceptionStatus string

const (
	ReceptionOpen        ReceptionStatus = "open"
	ReceptionClosingSoon ReceptionStatus = "closing_soon"
	ReceptionClosed      ReceptionStatus = "closed"
	ReceptionUnknown     ReceptionStatus = "unknown"
)

// ClinicMatch is a directory query hit: a clinic plus query-time derived
// fields. Distance and reception status are computed per query, never stored.
type ClinicMatch struct {
	Clinic          Clinic          `json:"clinic"`
	DistanceKm      float64         `json:"distance_km"`
	ReceptionStatus ReceptionStatus `json:"reception_status"`
	MinutesToClose  *int            `json:"minutes_to_close,omitempty"`
	NextOpenLabel   string          `json:"next_open_label,omitempty"`
}
