package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases and trims", "  Shall We Meet at 3?  ", "shall we meet at 3?"},
		{"collapses http url", "docs at http://example.com/a?b=1 thanks", "docs at link thanks"},
		{"collapses www url", "see www.example.com for details", "see link for details"},
		{"collapses user mention", "@alice sounds good", "user sounds good"},
		{"collapses channel mention", "posted in #standup already", "posted in group already"},
		{"strips special characters", "ship it :) #yolo-mode $$$", "ship it  groupmode"},
		{"keeps basic punctuation", "ok, 4pm. works? great!", "ok, 4pm. works? great!"},
		{"empty input", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Clean(tc.input))
		})
	}
}

func TestCleanIdempotent(t *testing.T) {
	samples := []string{
		"@bob can you join http://meet.example.com/xyz at 4?",
		"anyone in #ops free for a call?",
		"LGTM :shipit: — merging now!!!",
		"plain sentence, nothing fancy.",
		"",
	}

	for _, s := range samples {
		once := Clean(s)
		assert.Equal(t, once, Clean(once), "Clean must be idempotent for %q", s)
	}
}

func TestMentions(t *testing.T) {
	assert.Equal(t, []string{"alice", "bob"}, Mentions("@alice @bob meeting at 3"))
	assert.Nil(t, Mentions("no mentions here"))
}
