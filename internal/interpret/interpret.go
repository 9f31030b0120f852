// Package interpret turns the free-form prose of a chat completion into
// structured diagnosis and prescription records. Every extraction is total:
// a pattern miss falls back to a fixed default instead of failing, because
// the upstream text is generative and rarely follows the requested format
// exactly. Whether the model answered usefully is for a human reviewer,
// not an error path.
package interpret

import (
	"regexp"
	"strings"
	"time"

	"github.com/yunzhen-health/tcm-advisor/internal/types"
)

// Defaults used when a pattern does not match.
const (
	DefaultSummary            = "中医诊断结果"
	DefaultSyndromeType       = "需进一步辨证"
	DefaultTreatmentPrinciple = "辨证施治"
	DefaultDosage             = "遵医嘱"
	DefaultPreparation        = "水煎服"
	DefaultDuration           = "7-14天"
	PrescriptionSummary       = "中药处方推荐"
)

// DiagnosisConfidence is a fixed placeholder; the upstream endpoint gives no
// usable certainty signal to derive a real estimate from.
const DiagnosisConfidence = 0.8

var (
	defaultRecommendations = []string{"注意休息", "饮食调护", "情志调节"}
	defaultHerbs           = []string{"需根据具体情况配伍"}
	defaultPrecautions     = []string{"遵医嘱服用", "注意饮食禁忌"}
)

var (
	syndromeRe    = regexp.MustCompile(`证型[:：]\s*([^\n]+)`)
	principleRe   = regexp.MustCompile(`治则[:：]\s*([^\n]+)`)
	dosageRe      = regexp.MustCompile(`剂量[:：]\s*([^\n]+)`)
	preparationRe = regexp.MustCompile(`煎服法[:：]\s*([^\n]+)`)
	durationRe    = regexp.MustCompile(`疗程[:：]\s*([^\n]+)`)

	// A run of CJK/latin characters followed by a quantity ending in a weight
	// unit, e.g. "柴胡 12g" or "白芍9克". Multiple herbs per line are fine.
	herbRe = regexp.MustCompile(`[\p{Han}A-Za-z]+\s*\d+(?:\.\d+)?\s*[g克]`)
)

// ParseDiagnosis builds a DiagnosisResult from raw completion text.
func ParseDiagnosis(text string, at time.Time) types.DiagnosisResult {
	return types.DiagnosisResult{
		Diagnosis:          text,
		Summary:            ExtractSummary(text),
		SyndromeType:       ExtractSyndromeType(text),
		TreatmentPrinciple: ExtractTreatmentPrinciple(text),
		Recommendations:    ExtractRecommendations(text),
		Confidence:         DiagnosisConfidence,
		Timestamp:          at,
	}
}

// ParsePrescription builds a PrescriptionResult from raw completion text.
func ParsePrescription(text string, at time.Time) types.PrescriptionResult {
	return types.PrescriptionResult{
		Prescription: text,
		Summary:      PrescriptionSummary,
		MainHerbs:    ExtractHerbs(text),
		Dosage:       ExtractDosage(text),
		Preparation:  ExtractPreparation(text),
		Precautions:  ExtractPrecautions(text),
		Duration:     ExtractDuration(text),
		Timestamp:    at,
	}
}

// ExtractSummary returns the first blank-line-separated paragraph.
func ExtractSummary(text string) string {
	first := strings.Split(text, "\n\n")[0]
	if first == "" {
		return DefaultSummary
	}
	return first
}

func ExtractSyndromeType(text string) string {
	return extractLabeled(syndromeRe, text, DefaultSyndromeType)
}

func ExtractTreatmentPrinciple(text string) string {
	return extractLabeled(principleRe, text, DefaultTreatmentPrinciple)
}

func ExtractDosage(text string) string {
	return extractLabeled(dosageRe, text, DefaultDosage)
}

func ExtractPreparation(text string) string {
	return extractLabeled(preparationRe, text, DefaultPreparation)
}

func ExtractDuration(text string) string {
	return extractLabeled(durationRe, text, DefaultDuration)
}

// ExtractRecommendations collects bullet lines after a line mentioning
// 建议 or 调护. The opening line may itself carry a bullet.
func ExtractRecommendations(text string) []string {
	out := extractBulletSection(text, "建议", "调护")
	if len(out) == 0 {
		return append([]string(nil), defaultRecommendations...)
	}
	return out
}

// ExtractPrecautions works like ExtractRecommendations with the section
// opened by 注意 or 禁忌.
func ExtractPrecautions(text string) []string {
	out := extractBulletSection(text, "注意", "禁忌")
	if len(out) == 0 {
		return append([]string(nil), defaultPrecautions...)
	}
	return out
}

// ExtractHerbs collects every herb-with-dosage token across the whole text.
func ExtractHerbs(text string) []string {
	var herbs []string
	for _, line := range strings.Split(text, "\n") {
		herbs = append(herbs, herbRe.FindAllString(line, -1)...)
	}
	if len(herbs) == 0 {
		return append([]string(nil), defaultHerbs...)
	}
	return herbs
}

// extractLabeled returns the first "<label>[:：]<value>" capture, trimmed.
func extractLabeled(re *regexp.Regexp, text string, def string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return def
	}
	v := strings.TrimSpace(m[1])
	if v == "" {
		return def
	}
	return v
}

// extractBulletSection scans line by line. Once a line containing either
// opener is seen the section stays open until end of text, and every
// "•"-prefixed line has its bullet stripped and is collected.
func extractBulletSection(text string, openers ...string) []string {
	var out []string
	open := false
	for _, line := range strings.Split(text, "\n") {
		for _, o := range openers {
			if strings.Contains(line, o) {
				open = true
				break
			}
		}
		trimmed := strings.TrimSpace(line)
		if open && strings.HasPrefix(trimmed, "•") {
			item := strings.TrimSpace(strings.TrimPrefix(trimmed, "•"))
			out = append(out, item)
		}
	}
	return out
}
