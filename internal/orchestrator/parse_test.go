package orchestrator

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ChamsBouzaiene/phidelta/internal/memory"
)

func TestParseRoute(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    Route
		wantErr bool
	}{
		{"quick response", "Route: QuickResponse", RouteQuickResponse, false},
		{"retrieval", "Route: Retrieval", RouteRetrieval, false},
		{"agentic", "Route: Agentic", RouteAgentic, false},
		{"lowercase", "route: agentic", RouteAgentic, false},
		{"bare label", "Retrieval", RouteRetrieval, false},
		{"label after preamble", "Thinking about it.\nRoute: QuickResponse", RouteQuickResponse, false},
		{"garbage", "I am not sure what to do here.", "", true},
		{"empty", "", "", true},
		{"partial word", "Route: Quick", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRoute(tt.reply)
			if tt.wantErr {
				if !errors.Is(err, ErrRoutingAmbiguous) {
					t.Errorf("expected ErrRoutingAmbiguous, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseRoute(%q) = %q, want %q", tt.reply, got, tt.want)
			}
		})
	}
}

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			"corrected plan format",
			"Corrected Plan:\nStep 1. Search arXiv for attention papers\nStep 2. Download papers 1 and 3",
			[]string{"Search arXiv for attention papers", "Download papers 1 and 3"},
		},
		{
			"preamble ignored before marker",
			"Step 0. fake\nCorrected Plan:\nStep 1. Real step",
			[]string{"Real step"},
		},
		{
			"bare numbered list",
			"1. First thing\n2. Second thing",
			[]string{"First thing", "Second thing"},
		},
		{
			"no steps",
			"This plan looks fine to me.",
			nil,
		},
		{
			"parenthesis numbering",
			"Step 1) Do the search\nStep 2) Summarize",
			[]string{"Do the search", "Summarize"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePlan(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("parsePlan() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("step %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseStepReport(t *testing.T) {
	text := `### Summary:
- Found 3 papers on attention mechanisms.
- Paper 1 and Paper 3 look most relevant.

### Resources:
- https://arxiv.org/abs/1706.03762
- Attention survey notes
None`

	report := parseStepReport(text)
	if report.Summary == "" || report.Raw != text {
		t.Fatalf("summary not extracted: %+v", report)
	}
	if len(report.Resources) != 2 {
		t.Fatalf("expected 2 resources, got %v", report.Resources)
	}
	if report.Resources[0] != "https://arxiv.org/abs/1706.03762" {
		t.Errorf("first resource = %q", report.Resources[0])
	}
}

func TestParseStepReportWithoutMarkers(t *testing.T) {
	report := parseStepReport("The search tool failed with a timeout.")
	if report.Summary != "The search tool failed with a timeout." {
		t.Errorf("unmarked output should become the summary: %q", report.Summary)
	}
	if len(report.Resources) != 0 {
		t.Errorf("expected no resources, got %v", report.Resources)
	}
}

func TestParseStepReportResourcesNone(t *testing.T) {
	report := parseStepReport("### Summary:\nDone.\n\n### Resources:\nNone.")
	if len(report.Resources) != 0 {
		t.Errorf("expected no resources for None, got %v", report.Resources)
	}
}

func TestExtractURLs(t *testing.T) {
	urls := extractURLs([]string{
		"- See https://arxiv.org/abs/1706.03762.",
		"https://example.com/a and https://example.com/a again",
		"no link here",
	})
	if len(urls) != 2 {
		t.Fatalf("expected 2 unique urls, got %v", urls)
	}
	if urls[0] != "https://arxiv.org/abs/1706.03762" {
		t.Errorf("trailing punctuation not stripped: %q", urls[0])
	}
}

func TestParseEvaluation(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantVerdict Verdict
		wantPlanLen int
		wantAmbig   bool
	}{
		{"no change", "Decision: No change", VerdictContinue, 0, false},
		{"stop", "Decision: STOP", VerdictStop, 0, false},
		{"break", "Decision: BREAK", VerdictBreak, 0, false},
		{
			"changed steps with plan",
			"Decision: Changed Steps\nCorrected Plan:\nStep 1. Retry the search with a narrower query\nStep 2. Summarize",
			VerdictReplan, 2, false,
		},
		{"changed steps without plan", "Decision: Changed Steps", VerdictBreak, 0, true},
		{"unparseable", "Looks good to me!", VerdictBreak, 0, true},
		{"case insensitive", "decision: no change", VerdictContinue, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := parseEvaluation(tt.text)
			if eval.Verdict != tt.wantVerdict {
				t.Errorf("verdict = %v, want %v", eval.Verdict, tt.wantVerdict)
			}
			if len(eval.NewPlan) != tt.wantPlanLen {
				t.Errorf("new plan length = %d, want %d", len(eval.NewPlan), tt.wantPlanLen)
			}
			if eval.Ambiguous != tt.wantAmbig {
				t.Errorf("ambiguous = %v, want %v", eval.Ambiguous, tt.wantAmbig)
			}
		})
	}
}

// When several decision phrases appear, the mildest verdict wins so a noisy
// evaluator cannot accidentally end a healthy run.
func TestEvaluatePrecedence(t *testing.T) {
	eval := parseEvaluation("Decision: STOP\nDecision: No change")
	if eval.Verdict != VerdictContinue {
		t.Errorf("continue should win over stop, got %v", eval.Verdict)
	}

	eval = parseEvaluation("Decision: BREAK\nDecision: Changed Steps\nCorrected Plan:\nStep 1. x")
	if eval.Verdict != VerdictReplan {
		t.Errorf("replan should win over break, got %v", eval.Verdict)
	}

	eval = parseEvaluation("Decision: STOP\nDecision: BREAK")
	if eval.Verdict != VerdictBreak {
		t.Errorf("break should win over stop, got %v", eval.Verdict)
	}
}

func TestParseEscalation(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"ESCALATE", true},
		{"escalate", true},
		{" ESCALATE. ", true},
		{"STAY", false},
		{"stay", false},
		{"I think we should escalate this", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := parseEscalation(tt.reply); got != tt.want {
			t.Errorf("parseEscalation(%q) = %v, want %v", tt.reply, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 120); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}

	long := strings.Repeat("x", 200)
	if got := truncate(long, 120); got != long[:120]+"..." {
		t.Errorf("truncate(long) = %q", got)
	}

	// 3-byte runes: the cut must back up to a rune boundary, never split one.
	thai := strings.Repeat("ข", 50)
	got := truncate(thai, 100)
	if !utf8.ValidString(got) {
		t.Errorf("truncate split a multi-byte rune: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated string missing ellipsis: %q", got)
	}
}

func TestRunningContextDigestKeepsRuneBoundary(t *testing.T) {
	steps := []memory.StepRecord{
		{
			Step:   "collect notes",
			Report: "### Summary:\n- " + strings.Repeat("รายงาน ", 200) + "\n\n### Resources:\nNone.",
		},
	}

	digest := runningContextDigest(steps)
	if !strings.HasPrefix(digest, "...") {
		t.Fatalf("long digest should keep the tail with an ellipsis prefix: %q", digest[:20])
	}
	if len(digest) > maxRunningContext+len("...") {
		t.Errorf("digest too long: %d bytes", len(digest))
	}
	if !utf8.ValidString(digest) {
		t.Errorf("digest tail split a multi-byte rune")
	}
}
