package pipeline

import (
	"fmt"
	"strings"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

func profileBlock(p domain.ClientProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business: %s\n", p.DisplayName())
	if p.Domain != "" {
		fmt.Fprintf(&b, "Domain: %s\n", p.Domain)
	}
	if s := strings.TrimSpace(p.BusinessSummary); s != "" {
		fmt.Fprintf(&b, "Summary: %s\n", s)
	}
	if s := strings.TrimSpace(p.Audience); s != "" {
		fmt.Fprintf(&b, "Audience: %s\n", s)
	}
	writeList(&b, "Services", p.Services)
	writeList(&b, "Locations", p.Locations)
	writeList(&b, "Specialties", p.Specialties)
	writeList(&b, "Topics", p.Topics)
	return b.String()
}

func writeList(b *strings.Builder, label string, values []string) {
	var kept []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			kept = append(kept, v)
		}
	}
	if len(kept) > 0 {
		fmt.Fprintf(b, "%s: %s\n", label, strings.Join(kept, ", "))
	}
}

func urlInventoryBlock(pages []domain.PageRef, limit int) string {
	if limit > 0 && len(pages) > limit {
		pages = pages[:limit]
	}
	var b strings.Builder
	for _, page := range pages {
		fmt.Fprintf(&b, "- %s | %s | %s\n", page.URL, strings.TrimSpace(page.Title), strings.TrimSpace(page.Summary))
	}
	if b.Len() == 0 {
		return "none\n"
	}
	return b.String()
}

func buildClassifyPrompts(profile domain.ClientProfile, anchors []domain.ClassificationResult, keywords []string) (string, string) {
	exclusions := ""
	if len(profile.NegativeCategories) > 0 {
		var eb strings.Builder
		eb.WriteString("\nExclusion rules (REMOVE keywords in these categories):\n")
		for _, c := range profile.NegativeCategories {
			if c = strings.TrimSpace(c); c != "" {
				fmt.Fprintf(&eb, "- %s\n", c)
			}
		}
		exclusions = eb.String()
	}

	systemPrompt := fmt.Sprintf(`You are an SEO keyword relevance filter for one client.

Client profile:
%s%s
Classify every keyword as:
- KEEP: directly relevant to the client's services, locations or specialties
- REMOVE: wrong location, wrong specialty, competitor or person names, single generic words with no SEO value
- UNSURE: possibly relevant but needs human judgment

Rules:
- Return every keyword exactly as provided. Never modify keyword text.
- Prefer UNSURE over an incorrect REMOVE.
- Set confidence between 0 and 100.

Respond with JSON only (no markdown):
{"classifications": [{"keyword": "...", "label": "KEEP", "confidence": 90, "reason": "..."}, ...]}`, profileBlock(profile), exclusions)

	var ub strings.Builder
	if len(anchors) > 0 {
		ub.WriteString("Anchor examples from this session (stay consistent with these):\n")
		for _, a := range anchors {
			fmt.Fprintf(&ub, "- %q -> %s (%s)\n", a.Keyword, a.Label, a.Reason)
		}
		ub.WriteString("\n")
	}
	ub.WriteString("Keywords to classify:\n")
	ub.WriteString(keywordList(keywords))
	return systemPrompt, ub.String()
}

func buildMappingPrompts(profile domain.ClientProfile, urlLimit int, keywords []string) (string, string) {
	systemPrompt := fmt.Sprintf(`You are an SEO keyword-to-URL mapper for one client.

Client profile:
%s
Client URLs (url | title | summary):
%s
For every keyword choose a target:
- the best existing URL from the list above when there is a genuine topical match
- "NEW_PAGE" when the keyword needs a dedicated service or landing page (transactional intent)
- "BLOG_POST" when the keyword is informational and no existing page covers it

Rules:
- Only use URLs from the list. Do not force-fit.
- Several keywords may map to the same URL.
- Return every keyword exactly as provided.
- Set confidence between 0 and 100 and intent to one of: transactional, informational, navigational, commercial.

Respond with JSON only (no markdown):
{"mappings": [{"keyword": "...", "target": "https://... or NEW_PAGE or BLOG_POST", "confidence": 85, "intent": "transactional", "reason": "..."}, ...]}`,
		profileBlock(profile), urlInventoryBlock(profile.URLInventory, urlLimit))

	return systemPrompt, "Keywords to map:\n" + keywordList(keywords)
}

func buildClusterPrompts(profile domain.ClientProfile, keywords []string) (string, string) {
	systemPrompt := fmt.Sprintf(`You group SEO keywords that need new content into topical clusters.

Client profile:
%s
Rules:
- Every keyword belongs to exactly one cluster.
- Keep each cluster to one page worth of content (usually 2 to 10 keywords).
- Use the keywords exactly as provided.
- Pick the strongest keyword of each cluster as primary_keyword.

Respond with JSON only (no markdown):
{"clusters": [{"theme_label": "...", "primary_keyword": "...", "member_keywords": ["...", "..."]}, ...]}`, profileBlock(profile))

	return systemPrompt, "Keywords to cluster:\n" + keywordList(keywords)
}

func buildBriefPrompts(profile domain.ClientProfile, cluster domain.Cluster, urlLimit int) (string, string) {
	tone := strings.TrimSpace(profile.Tone)
	if tone == "" {
		tone = "professional, clear and trustworthy"
	}
	systemPrompt := fmt.Sprintf(`You write writer-ready SEO content briefs.

Client profile:
%sTone: %s

Existing client URLs for internal links (url | title | summary):
%s
Respond with JSON only (no markdown):
{"title": "...", "overview": "...", "audience": "...", "content_direction": "...", "seo_notes": "...", "call_to_action": "..."}`,
		profileBlock(profile), tone, urlInventoryBlock(profile.URLInventory, urlLimit))

	var ub strings.Builder
	fmt.Fprintf(&ub, "Cluster theme: %s\n", cluster.Theme)
	fmt.Fprintf(&ub, "Content type: %s\n", cluster.ContentType)
	fmt.Fprintf(&ub, "Primary keyword: %s\n", cluster.PrimaryKeyword)
	ub.WriteString("Supporting keywords:\n")
	ub.WriteString(keywordList(cluster.Members))
	return systemPrompt, ub.String()
}
