package openai

import (
	"fmt"
	"strings"

	"github.com/medigate/navigator/internal/domain/entities"
)

const questionsSystemPrompt = `あなたは患者の症状を詳しく把握するための質問を考える医療アシスタントです。
診断はせず、症状をより正確に把握するために医師が確認すべき追加質問を2〜5個作成してください。
日本語で出力してください。
出力は必ず次のスキーマのJSONのみ:
{"questions": string[] (2-5個、各質問は1文)}`

const departmentsSystemPrompt = `あなたは適切な診療科を案内する医療ナビゲーターです。
患者の訴えと追加情報に基づき、受診を推奨する診療科を1〜3つ、理由とともに示してください。
診断は絶対にしないでください。病名の断定、「〜病です」「〜症です」のような表現は禁止です。
あわせて「このシステムは診断を行いません。正確な診断は医師の診察が必要です。」という旨の
注意書きを患者向けに分かりやすい日本語で1〜2文で作成してください。
出力は必ず次のスキーマのJSONのみ:
{"departments": [{"department": string (診療科名), "rationale": string (推奨理由)}], "disclaimer": string}`

const noteSystemPrompt = `あなたは医師の診察を補助するメモを作成するアシスタントです。
患者の訴えと追加情報から、医師が診察時に参照するPQRST形式のメモを作成してください。
- provocation: 誘発・軽減要因（何をすると悪化/軽減するか）
- quality: 症状の性質（鋭い、鈍い、ズキズキ等）
- region: 症状の部位と放散の有無
- severity: 重症度の目安（1-10 scale等）
- time_course: いつから、どれくらい続いているか
情報が不明な項目は空文字列にしてください。日本語で、医師向けの簡潔な記述にしてください。
出力は必ず次のスキーマのJSONのみ:
{"provocation": string, "quality": string, "region": string, "severity": string, "time_course": string}`

// strictJSONReminder is appended to the system prompt on the reformulation
// retry after a response failed to parse.
const strictJSONReminder = `

前回の出力は指定スキーマのJSONとして解釈できませんでした。
今回は説明文・前置き・コードブロック記法を一切付けず、指定スキーマのJSONオブジェクトだけを出力してください。`

// nonDiagnosisReminder is appended when the parsed recommendation still
// contained diagnostic language.
const nonDiagnosisReminder = `

前回の出力に病名を断定する表現が含まれていました。
病名の断定・推定を完全に取り除き、診療科の案内と受診理由のみを記載し直してください。`

func buildQuestionsUserPrompt(symptom string) string {
	return fmt.Sprintf("患者の訴え: %s", symptom)
}

func buildAssessmentUserPrompt(symptom string, answers []entities.QuestionAnswer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "患者の訴え: %s\n", symptom)
	if len(answers) == 0 {
		b.WriteString("追加情報: なし\n")
		return b.String()
	}
	b.WriteString("追加情報:\n")
	for _, qa := range answers {
		answer := qa.Answer
		if answer == "" {
			answer = "（回答なし）"
		}
		fmt.Fprintf(&b, "- %s → %s\n", qa.Question, answer)
	}
	return b.String()
}

// diagnosticPatterns are assertion-style disease statements the
// recommendation output must never contain. Best-effort: the adapter
// re-prompts once on a hit, then fails.
var diagnosticPatterns = []string{
	"と診断",
	"診断します",
	"病です",
	"症です",
	"炎です",
	"癌です",
	"がんです",
	"に罹患して",
	"あなたの病気は",
}

// containsDiagnosticLanguage reports whether any recommendation text reads
// like a diagnosis rather than a referral.
func containsDiagnosticLanguage(recs []entities.DepartmentRecommendation) bool {
	for _, rec := range recs {
		text := rec.Department + rec.Rationale
		for _, pattern := range diagnosticPatterns {
			if strings.Contains(text, pattern) {
				return true
			}
		}
	}
	return false
}
