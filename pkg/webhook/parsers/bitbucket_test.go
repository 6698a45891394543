package parsers

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bbva/deeptracy-api/internal/models"
)

const bitbucketActor = `"actor": {"links": {"self": {"href": "https://api.bitbucket.org/2.0/users/o"}}}`

func TestBitbucketParser_Detect(t *testing.T) {
	parser := NewBitbucketParser("git@bitbucket.org")

	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{
			name:    "bitbucket actor",
			payload: `{` + bitbucketActor + `}`,
			want:    true,
		},
		{
			name:    "other host",
			payload: `{"actor": {"links": {"self": {"href": "https://example.com/users/o"}}}}`,
			want:    false,
		},
		{
			name:    "href not a string",
			payload: `{"actor": {"links": {"self": {"href": 42}}}}`,
			want:    false,
		},
		{
			name:    "no actor",
			payload: `{"repository": {"url": "https://github.com/o/r"}}`,
			want:    false,
		},
		{
			name:    "not json",
			payload: `not json`,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parser.Detect([]byte(tt.payload)); got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBitbucketParser_Parse(t *testing.T) {
	parser := NewBitbucketParser("git@bitbucket.org")

	tests := []struct {
		name    string
		payload string
		want    []*models.Hook
		wantErr bool
	}{
		{
			name: "single commit",
			payload: `{` + bitbucketActor + `,
				"canon_url": "https://bitbucket.org",
				"repository": {"slug": "r", "owner": "o"},
				"commits": [{"branch": "master", "raw_node": "abc"}]
			}`,
			want: []*models.Hook{{
				Provider:   models.ProviderBitbucket,
				RepoName:   "r",
				RepoURL:    "git@bitbucket.org:o/r.git",
				RefName:    "refs/heads/master",
				BranchName: "master",
				Before:     "abc^1",
				After:      "abc",
			}},
		},
		{
			name:    "minimal payload",
			payload: `{"canon_url": "x", "repository": {"slug": "r", "owner": "o"}, "commits": [{"branch": "main", "raw_node": "abc123"}]}`,
			want: []*models.Hook{{
				Provider:   models.ProviderBitbucket,
				RepoName:   "r",
				RepoURL:    "git@bitbucket.org:o/r.git",
				RefName:    "refs/heads/main",
				BranchName: "main",
				Before:     "abc123^1",
				After:      "abc123",
			}},
		},
		{
			name: "before from first commit, after from last",
			payload: `{
				"canon_url": "https://bitbucket.org",
				"repository": {"slug": "r", "owner": "o"},
				"commits": [
					{"branch": "dev", "raw_node": "c1"},
					{"branch": "dev", "raw_node": "c2"},
					{"branch": "dev", "raw_node": "c3"}
				]
			}`,
			want: []*models.Hook{{
				Provider:   models.ProviderBitbucket,
				RepoName:   "r",
				RepoURL:    "git@bitbucket.org:o/r.git",
				RefName:    "refs/heads/dev",
				BranchName: "dev",
				Before:     "c1^1",
				After:      "c3",
			}},
		},
		{
			name: "one hook per branch in first-seen order",
			payload: `{
				"canon_url": "https://bitbucket.org",
				"repository": {"slug": "r", "owner": "o"},
				"commits": [
					{"branch": "feature", "raw_node": "f1"},
					{"branch": "master", "raw_node": "m1"},
					{"branch": "feature", "raw_node": "f2"}
				]
			}`,
			want: []*models.Hook{
				{
					Provider:   models.ProviderBitbucket,
					RepoName:   "r",
					RepoURL:    "git@bitbucket.org:o/r.git",
					RefName:    "refs/heads/feature",
					BranchName: "feature",
					Before:     "f1^1",
					After:      "f2",
				},
				{
					Provider:   models.ProviderBitbucket,
					RepoName:   "r",
					RepoURL:    "git@bitbucket.org:o/r.git",
					RefName:    "refs/heads/master",
					BranchName: "master",
					Before:     "m1^1",
					After:      "m1",
				},
			},
		},
		{
			name: "null and empty branches skipped",
			payload: `{
				"canon_url": "https://bitbucket.org",
				"repository": {"slug": "r", "owner": "o"},
				"commits": [
					{"branch": null, "raw_node": "x1"},
					{"branch": "", "raw_node": "x2"}
				]
			}`,
			want: []*models.Hook{},
		},
		{
			name: "null branch does not affect neighbours",
			payload: `{
				"canon_url": "https://bitbucket.org",
				"repository": {"slug": "r", "owner": "o"},
				"commits": [
					{"branch": null, "raw_node": "x1"},
					{"branch": "master", "raw_node": "m1"}
				]
			}`,
			want: []*models.Hook{{
				Provider:   models.ProviderBitbucket,
				RepoName:   "r",
				RepoURL:    "git@bitbucket.org:o/r.git",
				RefName:    "refs/heads/master",
				BranchName: "master",
				Before:     "m1^1",
				After:      "m1",
			}},
		},
		{
			name: "empty commits",
			payload: `{
				"canon_url": "https://bitbucket.org",
				"repository": {"slug": "r", "owner": "o"},
				"commits": []
			}`,
			want: []*models.Hook{},
		},
		{
			name: "owner as user object",
			payload: `{
				"canon_url": "https://bitbucket.org",
				"repository": {"slug": "r", "owner": {"username": "team"}},
				"commits": [{"branch": "master", "raw_node": "abc"}]
			}`,
			want: []*models.Hook{{
				Provider:   models.ProviderBitbucket,
				RepoName:   "r",
				RepoURL:    "git@bitbucket.org:team/r.git",
				RefName:    "refs/heads/master",
				BranchName: "master",
				Before:     "abc^1",
				After:      "abc",
			}},
		},
		{
			name:    "missing commits",
			payload: `{"canon_url": "https://bitbucket.org", "repository": {"slug": "r", "owner": "o"}}`,
			wantErr: true,
		},
		{
			name:    "missing canon_url",
			payload: `{"repository": {"slug": "r", "owner": "o"}, "commits": []}`,
			wantErr: true,
		},
		{
			name:    "missing repository",
			payload: `{"canon_url": "https://bitbucket.org", "commits": []}`,
			wantErr: true,
		},
		{
			name:    "commits not an array",
			payload: `{"canon_url": "https://bitbucket.org", "repository": {}, "commits": {}}`,
			wantErr: true,
		},
		{
			name: "commit without raw_node",
			payload: `{
				"canon_url": "https://bitbucket.org",
				"repository": {"slug": "r", "owner": "o"},
				"commits": [
					{"branch": "master", "raw_node": "m1"},
					{"branch": "master"}
				]
			}`,
			wantErr: true,
		},
		{
			name: "repository without slug",
			payload: `{
				"canon_url": "https://bitbucket.org",
				"repository": {"owner": "o"},
				"commits": [{"branch": "master", "raw_node": "m1"}]
			}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parser.Parse([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got hooks %v", got)
				}
				if !errors.Is(err, ErrMalformedPayload) {
					t.Errorf("error %v does not wrap ErrMalformedPayload", err)
				}
				if got != nil {
					t.Errorf("expected no partial result, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBitbucketParser_PayloadErrorField(t *testing.T) {
	parser := NewBitbucketParser("git@bitbucket.org")

	_, err := parser.Parse([]byte(`{"canon_url": "x", "repository": {}}`))

	var payloadErr *PayloadError
	if !errors.As(err, &payloadErr) {
		t.Fatalf("expected *PayloadError, got %T", err)
	}
	if payloadErr.Provider != models.ProviderBitbucket {
		t.Errorf("Provider = %q, want bitbucket", payloadErr.Provider)
	}
	if payloadErr.Field != "commits" {
		t.Errorf("Field = %q, want commits", payloadErr.Field)
	}
}
