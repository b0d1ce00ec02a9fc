package providers

import "strings"

// Confidence assigned to keyword-detected findings.
const detectedFindingConfidence = 0.8

var (
	tableKeywords   = []string{"表格", "数据", "参数", "指标", "table"}
	diagramKeywords = []string{"图", "图表", "示意图", "流程", "diagram", "figure"}
	specKeywords    = []string{"规格", "参数", "技术指标", "性能", "specification"}
)

// DetectFindings derives coarse structured findings from recognized text for
// backends that do not return them. At most one finding per kind is produced.
func DetectFindings(text string) Findings {
	lower := strings.ToLower(text)
	var f Findings
	if containsAny(lower, tableKeywords) {
		f.Tables = append(f.Tables, Finding{
			Type:       "detected_table",
			Content:    "table content detected",
			Confidence: detectedFindingConfidence,
		})
	}
	if containsAny(lower, diagramKeywords) {
		f.Diagrams = append(f.Diagrams, Finding{
			Type:       "detected_diagram",
			Content:    "diagram content detected",
			Confidence: detectedFindingConfidence,
		})
	}
	if containsAny(lower, specKeywords) {
		f.Specifications = append(f.Specifications, Finding{
			Type:       "technical_specs",
			Content:    "technical specifications detected",
			Confidence: detectedFindingConfidence,
		})
	}
	return f
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
