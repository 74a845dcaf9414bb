package tickets

import (
	"reflect"
	"testing"
)

func TestExtractRefs(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  []string
	}{
		{
			name:  "jira keys",
			texts: []string{"PROJ-123: fix the widget", "relates to INFRA-9"},
			want:  []string{"PROJ-123", "INFRA-9"},
		},
		{
			name:  "issue refs",
			texts: []string{"Fixes #42 and GH-7"},
			want:  []string{"#42", "#7"},
		},
		{
			name:  "dedup across texts",
			texts: []string{"PROJ-1", "branch/PROJ-1-fix"},
			want:  []string{"PROJ-1"},
		},
		{
			name:  "no refs",
			texts: []string{"plain description"},
			want:  nil,
		},
		{
			name:  "lowercase not a key",
			texts: []string{"proj-123 is not a ticket"},
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractRefs(tt.texts...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractRefs(%v) = %v, want %v", tt.texts, got, tt.want)
			}
		})
	}
}
