package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
)

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	article := "<html><body><div id=\"root\"><article>" + strings.Repeat("Plenty of server rendered text. ", 20) + "</article></div></body></html>"

	tests := []struct {
		name      string
		threshold int
		status    int
		body      string
		want      bool
	}{
		{name: "empty body", threshold: 100, status: 200, body: "  ", want: true},
		{name: "next root", threshold: 100, status: 200, body: `<div id="__next"></div>`, want: true},
		{name: "react root", threshold: 100, status: 200, body: `<body><div data-reactroot></div></body>`, want: true},
		{name: "script heavy", threshold: 1000, status: 200, body: `<html><script>var a=1;</script><p>t</p></html>`, want: true},
		{name: "root with content", threshold: 100, status: 200, body: article, want: false},
		{name: "plain page", threshold: 100, status: 200, body: "<html><body><p>hello</p></body></html>", want: false},
		{name: "not found", threshold: 100, status: 404, body: "", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := NewHeuristic(tc.threshold)
			got := h.ShouldPromote(crawler.FetchResult{StatusCode: tc.status, Body: []byte(tc.body)})
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNewHeuristicDefaults(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	require.Equal(t, defaultBodyThreshold, h.BodyLengthThreshold)
	require.Equal(t, 200, h.MinTextLength)
}
