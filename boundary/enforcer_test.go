package boundary

import (
	"context"
	"testing"

	"github.com/khoregos/k6s/internal/testutil"
	"github.com/khoregos/k6s/types"
)

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"src/frontend/**", "src/frontend/app.tsx", true},
		{"src/frontend/**", "src/frontend/components/nav.tsx", true},
		{"src/frontend/**", "src/backend/api.py", false},
		{"src/backend/**", "src/backend/api.py", true},
		{".env*", ".env", true},
		{".env*", ".env.local", true},
		{".env*", "config/.env", true},
		{"**/*.pem", "certs/server.pem", true},
		{"**/*.pem", "server.pem", true},
		{"**/*.key", "a/b/c/signing.key", true},
		{"*.md", "README.md", true},
		{"*.md", "docs/readme.md", true},
		{"docs/**", "docs/guide/intro.md", true},
		{"docs/**", "src/main.go", false},
		{"**/auth/**", "src/auth/login.go", true},
		{"**/auth/**", "src/payments/charge.go", false},
		{"package.json", "package.json", true},
		{"**/pom.xml", "services/billing/pom.xml", true},
	}

	for _, tt := range tests {
		if got := Match(tt.pattern, tt.path); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func frontendEnforcer(t *testing.T) *Enforcer {
	t.Helper()

	db := testutil.NewTestDB(t)
	ctx := context.Background()
	sessionID := testutil.SetupTestSession(ctx, t, db)

	return NewEnforcer(db, sessionID, "/project", []types.BoundaryConfig{
		{
			Pattern:      "frontend-*",
			AllowedPaths: []string{"src/frontend/**", "docs/**"},
			Enforcement:  types.EnforcementAdvisory,
		},
		{
			Pattern:        "*",
			ForbiddenPaths: []string{".env*", "**/*.pem", "**/*.key"},
			Enforcement:    types.EnforcementAdvisory,
		},
	})
}

func TestCheckPathAllowedPatterns(t *testing.T) {
	e := frontendEnforcer(t)

	tests := []struct {
		agent      string
		path       string
		want       bool
		wantReason string
	}{
		{"frontend-dev", "src/frontend/app.tsx", true, ""},
		{"frontend-dev", "docs/guide.md", true, ""},
		{"frontend-dev", "src/backend/api.py", false,
			"Path does not match any allowed patterns for frontend-dev"},
		{"backend-dev", ".env", false, "Path matches forbidden pattern: .env*"},
		{"backend-dev", "src/backend/api.py", true, ""},
	}

	for _, tt := range tests {
		result := e.CheckPath(tt.agent, tt.path)
		if result.Allowed != tt.want {
			t.Errorf("CheckPath(%q, %q).Allowed = %v, want %v",
				tt.agent, tt.path, result.Allowed, tt.want)
		}
		if tt.wantReason != "" && result.Reason != tt.wantReason {
			t.Errorf("CheckPath(%q, %q).Reason = %q, want %q",
				tt.agent, tt.path, result.Reason, tt.wantReason)
		}
	}
}

func TestCheckPathForbiddenBeforeAllowed(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	sessionID := testutil.SetupTestSession(ctx, t, db)

	e := NewEnforcer(db, sessionID, "/project", []types.BoundaryConfig{
		{
			Pattern:        "*",
			AllowedPaths:   []string{"src/**"},
			ForbiddenPaths: []string{"**/*.pem"},
		},
	})

	result := e.CheckPath("any", "src/certs/server.pem")
	if result.Allowed {
		t.Fatal("Expected forbidden pattern to win over allowed pattern")
	}
	if result.ViolationType != types.ViolationForbiddenPath {
		t.Errorf("ViolationType = %q, want %q", result.ViolationType, types.ViolationForbiddenPath)
	}
}

func TestCheckPathAbsolutePaths(t *testing.T) {
	e := frontendEnforcer(t)

	result := e.CheckPath("frontend-dev", "/project/src/frontend/app.tsx")
	if !result.Allowed {
		t.Errorf("Absolute path inside root denied: %s", result.Reason)
	}

	result = e.CheckPath("frontend-dev", "/etc/passwd")
	if result.Allowed {
		t.Error("Expected path outside project root to be denied")
	}
	if result.Reason != "Path /etc/passwd is outside project root" {
		t.Errorf("Reason = %q", result.Reason)
	}
}

func TestCheckPathNoBoundary(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	sessionID := testutil.SetupTestSession(ctx, t, db)

	e := NewEnforcer(db, sessionID, "/project", nil)
	if result := e.CheckPath("anyone", ".env"); !result.Allowed {
		t.Errorf("Unbounded agent denied: %s", result.Reason)
	}
}

func TestFindBoundaryPrefersSpecificOverWildcard(t *testing.T) {
	e := frontendEnforcer(t)

	b := e.FindBoundary("frontend-dev")
	if b == nil || b.Pattern != "frontend-*" {
		t.Fatalf("FindBoundary(frontend-dev) = %+v, want frontend-* rule", b)
	}

	b = e.FindBoundary("backend-dev")
	if b == nil || b.Pattern != "*" {
		t.Fatalf("FindBoundary(backend-dev) = %+v, want wildcard rule", b)
	}
}

func TestEnforceRecordsViolation(t *testing.T) {
	e := frontendEnforcer(t)
	ctx := context.Background()

	result, action, err := e.Enforce(ctx, "agent-1", "frontend-dev", "src/backend/api.py")
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected denial")
	}
	if action != types.EnforcementLogged {
		t.Errorf("action = %q, want %q", action, types.EnforcementLogged)
	}

	violations, err := e.GetViolations(ctx, "", 10)
	if err != nil {
		t.Fatalf("GetViolations() error = %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("Got %d violations, want 1", len(violations))
	}
	v := violations[0]
	if v.FilePath != "src/backend/api.py" {
		t.Errorf("FilePath = %q", v.FilePath)
	}
	if v.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want agent-1", v.AgentID)
	}
	if v.ViolationType != types.ViolationOutsideAllowed {
		t.Errorf("ViolationType = %q", v.ViolationType)
	}
}

func TestGetViolationsFiltersByAgent(t *testing.T) {
	e := frontendEnforcer(t)
	ctx := context.Background()

	if _, _, err := e.Enforce(ctx, "agent-1", "frontend-dev", "src/backend/a.py"); err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if _, _, err := e.Enforce(ctx, "agent-2", "frontend-dev", "src/backend/b.py"); err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}

	all, err := e.GetViolations(ctx, "", 10)
	if err != nil {
		t.Fatalf("GetViolations() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Got %d violations, want 2", len(all))
	}

	filtered, err := e.GetViolations(ctx, "agent-2", 10)
	if err != nil {
		t.Fatalf("GetViolations(agent-2) error = %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("Got %d violations for agent-2, want 1", len(filtered))
	}
	if filtered[0].AgentID != "agent-2" || filtered[0].FilePath != "src/backend/b.py" {
		t.Errorf("filtered violation = %+v", filtered[0])
	}
}

func TestSummaryWithoutBoundaryKeepsShape(t *testing.T) {
	e := frontendEnforcer(t)

	// frontendEnforcer carries a wildcard rule, so build one without.
	e.boundaries = nil
	summary := e.Summary("anyone")

	if summary["has_boundary"] != false {
		t.Errorf("has_boundary = %v, want false", summary["has_boundary"])
	}
	if summary["enforcement"] != "none" {
		t.Errorf("enforcement = %v, want none", summary["enforcement"])
	}
	allowed, ok := summary["allowed_paths"].([]string)
	if !ok || len(allowed) != 0 {
		t.Errorf("allowed_paths = %v, want empty slice", summary["allowed_paths"])
	}
	forbidden, ok := summary["forbidden_paths"].([]string)
	if !ok || len(forbidden) != 0 {
		t.Errorf("forbidden_paths = %v, want empty slice", summary["forbidden_paths"])
	}
}

func TestEnforceStrictCallsRevert(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	sessionID := testutil.SetupTestSession(ctx, t, db)

	e := NewEnforcer(db, sessionID, "/project", []types.BoundaryConfig{
		{Pattern: "*", ForbiddenPaths: []string{".env*"}, Enforcement: types.EnforcementStrict},
	})

	var reverted []string
	e.SetRevertFunc(func(ctx context.Context, path string) error {
		reverted = append(reverted, path)
		return nil
	})

	_, action, err := e.Enforce(ctx, "", "rogue", ".env")
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if action != types.EnforcementReverted {
		t.Errorf("action = %q, want %q", action, types.EnforcementReverted)
	}
	if len(reverted) != 1 || reverted[0] != ".env" {
		t.Errorf("reverted = %v, want [.env]", reverted)
	}
}

func TestSummary(t *testing.T) {
	e := frontendEnforcer(t)

	s := e.Summary("frontend-dev")
	if s["has_boundary"] != true {
		t.Error("Expected has_boundary = true")
	}
	if s["enforcement"] != types.EnforcementAdvisory {
		t.Errorf("enforcement = %v, want advisory", s["enforcement"])
	}

	db := testutil.NewTestDB(t)
	ctx := context.Background()
	sessionID := testutil.SetupTestSession(ctx, t, db)
	empty := NewEnforcer(db, sessionID, "/project", nil)

	s = empty.Summary("anyone")
	if s["has_boundary"] != false {
		t.Error("Expected has_boundary = false")
	}
	if s["enforcement"] != "none" {
		t.Errorf("enforcement = %v, want none", s["enforcement"])
	}
}
