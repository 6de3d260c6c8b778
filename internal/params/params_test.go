package params

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/restframe/internal/funcs"
	"github.com/hanpama/restframe/internal/paginate"
	"github.com/hanpama/restframe/internal/query"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  Params
	}{
		{
			name:  "empty",
			query: "",
			want:  Params{},
		},
		{
			name:  "filter passthrough",
			query: `filter[objects]=` + url.QueryEscape(`{"name":"age","op":"ge","val":18}`),
			want:  Params{Filter: []byte(`{"name":"age","op":"ge","val":18}`)},
		},
		{
			name:  "single flag",
			query: "filter[single]=1",
			want:  Params{Single: true},
		},
		{
			name:  "sort with direction prefixes",
			query: "sort=-age,name",
			want: Params{Sort: []query.Sort{
				{Field: "age", Desc: true},
				{Field: "name"},
			}},
		},
		{
			name:  "group by",
			query: "group_by=name,age",
			want:  Params{Group: []string{"name", "age"}},
		},
		{
			name:  "page window",
			query: "page[number]=2&page[size]=25",
			want:  Params{Page: paginate.Request{Number: 2, Size: 25}},
		},
		{
			name:  "include paths split on dots",
			query: "include=articles.comments,employer",
			want: Params{Include: [][]string{
				{"articles", "comments"},
				{"employer"},
			}},
		},
		{
			name:  "sparse fieldsets per type",
			query: "fields[person]=name,age&fields[article]=title",
			want: Params{Fields: map[string][]string{
				"person":  {"name", "age"},
				"article": {"title"},
			}},
		},
		{
			name:  "empty fieldset means no fields",
			query: "fields[person]=",
			want:  Params{Fields: map[string][]string{"person": {}}},
		},
		{
			name:  "functions",
			query: `functions=` + url.QueryEscape(`[{"name":"sum","field":"age"}]`),
			want:  Params{Functions: []funcs.Request{{Name: "sum", Field: "age"}}},
		},
		{
			name:  "unknown parameters ignored",
			query: "verbose=1&callback=f",
			want:  Params{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := url.ParseQuery(tc.query)
			require.NoError(t, err)
			got, err := Parse(v)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("params mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name  string
		query string
	}{
		{"invalid filter JSON", `filter[objects]={`},
		{"bad single flag", "filter[single]=yes"},
		{"empty sort token", "sort=age,-"},
		{"non-numeric page number", "page[number]=x"},
		{"zero page number", "page[number]=0"},
		{"negative page size", "page[size]=-1"},
		{"invalid functions JSON", "functions=nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := url.ParseQuery(tc.query)
			require.NoError(t, err)
			_, err = Parse(v)
			require.Error(t, err)
		})
	}
}
