package openaiscore

import (
	"fmt"
	"strings"

	"leadscore-backend/internal/scoring"
)

func systemPrompt() string {
	return strings.TrimSpace(`
You are a lead qualification analyst. Given a business context and a
social profile snapshot, return a JSON object with exactly these keys:
"score" (number 0-100, how well the profile fits the business as a
potential lead), "summary" (2-3 sentence plain-text rationale) and
"attributes" (object with any notable traits you extracted, string or
number values). Return only JSON.`)
}

func userPrompt(input scoring.Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business: %s\n", input.Context.Name)
	if input.Context.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", input.Context.Description)
	}
	if input.Context.TargetAudience != "" {
		fmt.Fprintf(&b, "Target audience: %s\n", input.Context.TargetAudience)
	}
	fmt.Fprintf(&b, "Analysis depth: %s\n\n", input.AnalysisDepth)

	snap := input.Snapshot
	fmt.Fprintf(&b, "Profile: @%s\n", snap.Identifier)
	if snap.DisplayName != "" {
		fmt.Fprintf(&b, "Name: %s\n", snap.DisplayName)
	}
	if snap.Bio != "" {
		fmt.Fprintf(&b, "Bio: %s\n", snap.Bio)
	}
	fmt.Fprintf(&b, "Followers: %d\nPosts: %d\nVerified: %t\n", snap.FollowerCount, snap.PostCount, snap.IsVerified)
	if len(snap.RecentPosts) > 0 {
		b.WriteString("Recent posts:\n")
		for _, post := range snap.RecentPosts {
			fmt.Fprintf(&b, "- %s\n", post)
		}
	}
	return b.String()
}
