package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type levelsQuery struct {
	Price string `query:"central_price" json:"central_price" validate:"required,numeric"`
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=5000"`
}

func newContext(target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestReadAndValidateRequest(t *testing.T) {
	t.Run("defaults and query binding", func(t *testing.T) {
		c, _ := newContext("/?central_price=29000.5")
		req := &levelsQuery{}
		assert.Nil(t, ReadAndValidateRequest(c, req))
		assert.Equal(t, "29000.5", req.Price)
		assert.Equal(t, 100, req.Limit)
	})

	t.Run("fields named by query tag", func(t *testing.T) {
		c, _ := newContext("/?limit=0")
		verr := ReadAndValidateRequest(c, &levelsQuery{})
		errs, ok := verr.([]ValidationError)
		require.True(t, ok)
		require.Len(t, errs, 2)
		assert.Equal(t, "central_price", errs[0].Field)
		assert.Equal(t, "ERR_REQUIRED", errs[0].Code)
		assert.Equal(t, "limit", errs[1].Field)
		assert.Equal(t, "ERR_GTE", errs[1].Code)
		assert.Equal(t, map[string]interface{}{"min": "1"}, errs[1].Params)
	})

	t.Run("non numeric price", func(t *testing.T) {
		c, _ := newContext("/?central_price=abc")
		errs, ok := ReadAndValidateRequest(c, &levelsQuery{}).([]ValidationError)
		require.True(t, ok)
		require.Len(t, errs, 1)
		assert.Equal(t, "central_price must be a decimal number", errs[0].Message)
	})
}

func TestAppErrorResponse(t *testing.T) {
	c, rec := newContext("/")
	err := FieldError("delta", "bad").WithError(errors.New("parse"))
	require.NoError(t, AppErrorResponse(c, err))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"delta"`)
	assert.Contains(t, rec.Body.String(), `"status":400`)

	c, rec = newContext("/")
	require.NoError(t, AppErrorResponse(c, errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClient_SendAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gridwatch-test", r.Header.Get("User-Agent"))
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("slow down"))
			return
		}
		_, _ = w.Write([]byte(`[1]`))
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("gridwatch-test"))

	var status []int
	require.NoError(t, c.SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, &status))
	assert.Equal(t, []int{1}, status)

	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL,
		QueryParams: map[string][]string{"fail": {"1"}},
	}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, "slow down", se.Body)
}
