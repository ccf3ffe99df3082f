package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/appointments?"+query, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContextDefaults(t *testing.T) {
	p := paramsFor(t, "")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestFromContextClampsLimit(t *testing.T) {
	p := paramsFor(t, "limit=5000")
	if p.Limit != MaxLimit {
		t.Errorf("expected clamped limit %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContextNegativeValues(t *testing.T) {
	p := paramsFor(t, "limit=-5&offset=-3")
	if p.Limit != DefaultLimit {
		t.Errorf("negative limit should fall back to default, got %d", p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("negative offset should clamp to 0, got %d", p.Offset)
	}
}

func TestFromContextExplicit(t *testing.T) {
	p := paramsFor(t, "limit=10&offset=30")
	if p.Limit != 10 || p.Offset != 30 {
		t.Errorf("unexpected params: %+v", p)
	}
}

func TestSQL(t *testing.T) {
	p := Params{Limit: 10, Offset: 20}
	if got := p.SQL(); got != "LIMIT 10 OFFSET 20" {
		t.Errorf("unexpected SQL clause %q", got)
	}
}

func TestNavigation(t *testing.T) {
	p := Params{Limit: 10, Offset: 20}
	if !p.HasNext(50) {
		t.Error("expected HasNext for total 50")
	}
	if p.HasNext(30) {
		t.Error("did not expect HasNext for total 30")
	}
	if !p.HasPrevious() {
		t.Error("expected HasPrevious for offset 20")
	}
	if p.NextOffset() != 30 {
		t.Errorf("unexpected NextOffset %d", p.NextOffset())
	}
	if p.PreviousOffset() != 10 {
		t.Errorf("unexpected PreviousOffset %d", p.PreviousOffset())
	}

	first := Params{Limit: 10, Offset: 5}
	if first.PreviousOffset() != 0 {
		t.Errorf("PreviousOffset should clamp to 0, got %d", first.PreviousOffset())
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2, 3}, 10, 3, 0)
	if !r.HasMore {
		t.Error("expected HasMore")
	}
	last := NewResponse([]int{1}, 10, 3, 9)
	if last.HasMore {
		t.Error("did not expect HasMore on last page")
	}
}
