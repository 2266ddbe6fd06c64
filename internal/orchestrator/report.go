package orchestrator

import (
	"regexp"
	"strings"
)

// StepReport is the structured result of one executed plan step.
type StepReport struct {
	Summary   string
	Resources []string
	Raw       string
}

var (
	summarySectionRe   = regexp.MustCompile(`(?is)###\s*Summary:\s*(.*?)(?:###\s*Resources:|\z)`)
	resourcesSectionRe = regexp.MustCompile(`(?is)###\s*Resources:\s*(.*)\z`)
	urlRe              = regexp.MustCompile(`https?://[^\s)\]>"']+`)
)

// parseStepReport splits executor output into its summary and resources
// sections. Output without the section markers is kept whole as the summary.
func parseStepReport(text string) StepReport {
	report := StepReport{Raw: text}

	if m := summarySectionRe.FindStringSubmatch(text); m != nil {
		report.Summary = strings.TrimSpace(m[1])
	} else {
		report.Summary = strings.TrimSpace(text)
	}

	if m := resourcesSectionRe.FindStringSubmatch(text); m != nil {
		section := strings.TrimSpace(m[1])
		if !strings.EqualFold(section, "none") && !strings.EqualFold(section, "none.") {
			for _, line := range strings.Split(section, "\n") {
				line = strings.TrimSpace(strings.TrimLeft(line, "-* \t"))
				if line == "" || strings.EqualFold(line, "none") || strings.EqualFold(line, "none.") {
					continue
				}
				report.Resources = append(report.Resources, line)
			}
		}
	}
	return report
}

// extractURLs pulls link targets out of resource lines.
func extractURLs(resources []string) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, r := range resources {
		for _, u := range urlRe.FindAllString(r, -1) {
			u = strings.TrimRight(u, ".,;")
			if !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}
	}
	return urls
}
