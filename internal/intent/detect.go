package intent

import (
	"strings"

	"github.com/phrazzld/compliance-tasks/internal/task"
)

// phraseRule maps phrase fragments to the task type they signal.
type phraseRule struct {
	taskType task.Type
	phrases  []string
}

// phraseTable is checked in order; the first rule with a matching phrase
// wins. Upload comes first so "upload this evidence report" is not read as
// a report request.
var phraseTable = []phraseRule{
	{
		taskType: task.TypeEvidenceUpload,
		phrases: []string{
			"upload evidence", "upload this", "uploading", "attach evidence",
			"attached evidence", "submit evidence", "add this evidence",
			"here is the evidence", "here's the evidence",
		},
	},
	{
		taskType: task.TypeReportGeneration,
		phrases: []string{
			"generate report", "generate a report", "create a report", "create report",
			"compliance report", "export report", "build a report", "produce a report",
			"report on", "summary report",
		},
	},
	{
		taskType: task.TypeComplianceAnalysis,
		phrases: []string{
			"analyze", "analyse", "analysis", "gap assessment", "assess compliance",
			"compliance status", "how compliant", "are we compliant", "evaluate compliance",
			"compliance check", "check compliance",
		},
	},
	{
		taskType: task.TypeEvidenceCollection,
		phrases: []string{
			"collect evidence", "gather evidence", "find evidence", "fetch evidence",
			"show evidence", "list evidence", "evidence for", "what evidence",
		},
	},
}

// attachmentVocabulary is the generic wording that, together with an
// attachment, is enough to read a request as an evidence upload.
var attachmentVocabulary = []string{
	"upload", "evidence", "attach", "file", "document", "screenshot", "proof", "artifact",
}

// DetectIntent returns the task type a free-form request asks for. The
// second return value is false when nothing matched; callers treat that
// as "no task" rather than as an error.
func DetectIntent(text string, hasAttachment bool) (task.Type, bool) {
	normalized := normalize(text)
	if normalized == "" {
		return "", false
	}

	if hasAttachment && containsAny(normalized, attachmentVocabulary) {
		return task.TypeEvidenceUpload, true
	}

	for _, rule := range phraseTable {
		if containsAny(normalized, rule.phrases) {
			return rule.taskType, true
		}
	}
	return "", false
}

// normalize lowercases text and collapses runs of whitespace.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
