package sites

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/courier/pkg/browser/browsertest"
)

func TestBuiltin_AllDefinitionsLoad(t *testing.T) {
	names := Names()
	assert.Equal(t, []string{"att", "certify"}, names)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			s, err := Builtin(name)
			require.NoError(t, err)
			assert.Equal(t, name, s.Name)
			assert.NotEmpty(t, s.EnvPrefix)
			assert.NotEmpty(t, s.Obstructions)
		})
	}
}

func TestBuiltin_WorkflowSelectorsPresent(t *testing.T) {
	att, err := Builtin("att")
	require.NoError(t, err)
	assert.NoError(t, att.Require("account_tiles", "billing_link", "all_statements",
		"statement_rows", "download_menu", "regular_pdf", "next_page"))

	certify, err := Builtin("certify")
	require.NoError(t, err)
	assert.NoError(t, certify.Require("new_report", "report_link", "add_expense",
		"expense_date", "category", "amount", "save_expense", "receipt_file",
		"upload_button", "expense_rows", "submit_report"))
	assert.Equal(t, []string{"confirm", "customConfirm"}, certify.ConfirmFunctions)
	assert.True(t, certify.ContainsText("submitted", "Status: Pending Approval"))
}

func TestBuiltin_Unknown(t *testing.T) {
	_, err := Builtin("nope")
	assert.ErrorContains(t, err, "unknown site")
}

func TestSite_SelectorFor(t *testing.T) {
	s, err := Builtin("certify")
	require.NoError(t, err)

	sel, err := s.SelectorFor("report_link", "8812")
	require.NoError(t, err)
	assert.Equal(t, `a[href*="ExpRptView.aspx?ID=8812"]`, sel)

	sel, err = s.SelectorFor("suggestion", `Acme "West"`)
	require.NoError(t, err)
	assert.Contains(t, sel, `div.suggestions div:has-text("Acme \"West\"")`)

	_, err = s.SelectorFor("missing", "x")
	assert.Error(t, err)
}

func TestSite_DestinationSelector(t *testing.T) {
	s := &Site{Challenge: ChallengeSelectors{Destination: "text=%s"}}
	assert.Equal(t, "text=4321", s.DestinationSelector("4321"))

	s.Challenge.Destination = "text="
	assert.Equal(t, "text=4321", s.DestinationSelector("4321"))
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "login_url: https://x.test\n",
			wantErr: "no name",
		},
		{
			name:    "missing authenticated landmark",
			yaml:    "name: x\nlogin_url: https://x.test\nlogin: {password: p, submit: [s]}\n",
			wantErr: "authenticated landmark",
		},
		{
			name: "bad glob",
			yaml: `name: x
login_url: https://x.test
login: {password: p, submit: [s]}
landmarks:
  authenticated:
    url_globs: ["[oops"]
`,
			wantErr: "invalid url glob",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoad_Override(t *testing.T) {
	fs := afero.NewMemMapFs()
	def := `name: att
login_url: https://staging.example.test/signin
login: {password: 'input[type="password"]', submit: ['button']}
landmarks:
  authenticated:
    url_contains: [home]
`
	require.NoError(t, afero.WriteFile(fs, "/etc/att.yaml", []byte(def), 0o600))

	s, err := Load(fs, "att", "/etc/att.yaml")
	require.NoError(t, err)
	assert.Equal(t, "https://staging.example.test/signin", s.LoginURL)

	_, err = Load(fs, "certify", "/etc/att.yaml")
	assert.ErrorContains(t, err, "expected")
}

func TestLandmark_Match(t *testing.T) {
	att, err := Builtin("att")
	require.NoError(t, err)
	certify, err := Builtin("certify")
	require.NoError(t, err)

	tests := []struct {
		name     string
		landmark *Landmark
		setup    func(p *browsertest.Page)
		want     bool
	}{
		{
			name:     "authenticated by url",
			landmark: &att.Landmarks.Authenticated,
			setup:    func(p *browsertest.Page) { p.SetURL("https://www.att.com/acctmgmt/overview") },
			want:     true,
		},
		{
			name:     "signin url is not authenticated",
			landmark: &att.Landmarks.Authenticated,
			setup:    func(p *browsertest.Page) { p.SetURL("https://www.att.com/acctmgmt/signin") },
			want:     false,
		},
		{
			name:     "rate limit url",
			landmark: &att.Landmarks.RateLimited,
			setup: func(p *browsertest.Page) {
				p.SetURL("https://www.att.com/acctmgmt/signin?errorCode=902")
			},
			want: true,
		},
		{
			name:     "blocked by body text",
			landmark: &att.Landmarks.Blocked,
			setup: func(p *browsertest.Page) {
				p.Show("body", "Sorry, it's NOT you. We're having trouble.")
			},
			want: true,
		},
		{
			name:     "challenge by selector",
			landmark: &att.Landmarks.Challenge,
			setup:    func(p *browsertest.Page) { p.Show(`button:has-text("Send")`, "Send") },
			want:     true,
		},
		{
			name:     "hidden selector does not count",
			landmark: &att.Landmarks.Challenge,
			setup:    func(p *browsertest.Page) { p.Hidden(`input[type="radio"]`) },
			want:     false,
		},
		{
			name:     "url glob",
			landmark: &certify.Landmarks.Authenticated,
			setup: func(p *browsertest.Page) {
				p.SetURL("https://expense.certify.com/ExpRptList.aspx")
			},
			want: true,
		},
		{
			name:     "empty landmark never matches",
			landmark: &Landmark{},
			setup:    func(p *browsertest.Page) {},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.NewPage("https://example.test/")
			tt.setup(page)
			got, err := tt.landmark.Match(page)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
