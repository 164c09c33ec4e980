package sessions

import "testing"

func TestSession_Title(t *testing.T) {
	base := func() *Session { return newSession("chan:123") }

	tests := []struct {
		name    string
		mutate  func(*Session)
		content string
		want    string
	}{
		{
			name:    "display name wins",
			mutate:  func(s *Session) { s.DisplayName = "Ops Standup" },
			content: "irrelevant",
			want:    "Ops Standup",
		},
		{
			name:    "subject used when no display name",
			mutate:  func(s *Session) { s.Subject = "deploy review" },
			content: "irrelevant",
			want:    "deploy review",
		},
		{
			name:    "short first user message used verbatim",
			content: "what's the weather today",
			want:    "what's the weather today",
		},
		{
			name:    "long first user message truncated on word boundary",
			content: "please walk me through every step required to migrate the production database without downtime",
			want:    truncateOnWord("please walk me through every step required to migrate the production database without downtime", 60),
		},
		{
			name:    "empty content falls back to id and date",
			content: "",
			want:    "", // computed below
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			if tt.mutate != nil {
				tt.mutate(s)
			}
			want := tt.want
			if want == "" && tt.content == "" {
				want = s.SessionID[:8] + " " + s.CreatedAt.Format("2006-01-02")
			}
			if got := s.Title(tt.content); got != want {
				t.Errorf("Title() = %q, want %q", got, want)
			}
		})
	}
}

func TestTruncateOnWord(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 60, "short"},
		{"", 60, ""},
		{"   ", 60, ""},
		{"exactly ten", 11, "exactly ten"},
		{"a very long sentence that definitely exceeds the limit given", 20, "a very long…"},
	}
	for _, tt := range tests {
		if got := truncateOnWord(tt.in, tt.max); got != tt.want {
			t.Errorf("truncateOnWord(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
