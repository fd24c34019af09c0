package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gradeflow/assess-api/internal/dto"
	"github.com/gradeflow/assess-api/internal/service"
)

type stubRubricService struct {
	data     *dto.RubricData
	getErr   error
	updErr   error
	lastID   uint
	lastReq  dto.RubricUpdateRequest
	graderID *uint
}

func (s *stubRubricService) UpdateRubric(_ context.Context, id uint, req dto.RubricUpdateRequest, graderID *uint) error {
	s.lastID = id
	s.lastReq = req
	s.graderID = graderID
	return s.updErr
}

func (s *stubRubricService) GetRubricData(_ context.Context, id uint) (*dto.RubricData, error) {
	s.lastID = id
	return s.data, s.getErr
}

func newRubricApp(svc service.RubricService) *fiber.App {
	app := fiber.New()
	h := NewRubricHandler(svc, zerolog.Nop())
	h.Register(app.Group("/api/v1/grading"))
	return app
}

func TestGetRubricEndpoint(t *testing.T) {
	svc := &stubRubricService{data: &dto.RubricData{
		ID:    3,
		Items: []dto.RubricItemData{{ID: 1, Points: 2, Description: "Correct"}},
	}}
	app := newRubricApp(svc)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/grading/assessment-questions/8/rubric", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, uint(8), svc.lastID)

	body := decodeResponse(t, resp)
	require.True(t, body.Success)
	data, ok := body.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(3), data["id"])
}

func TestGetRubricEndpointWithoutRubric(t *testing.T) {
	app := newRubricApp(&stubRubricService{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/grading/assessment-questions/8/rubric", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeResponse(t, resp)
	require.True(t, body.Success)
	require.Contains(t, body.Message, "no rubric configured")
}

func TestGetRubricEndpointNotFound(t *testing.T) {
	app := newRubricApp(&stubRubricService{getErr: service.ErrAssessmentQuestionNotFound})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/grading/assessment-questions/8/rubric", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateRubricEndpoint(t *testing.T) {
	svc := &stubRubricService{}
	app := newRubricApp(svc)

	payload := `{"use_rubric": true, "rubric_items": [{"points": 2, "description": "Correct"}]}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/grading/assessment-questions/8/rubric", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "15")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.True(t, svc.lastReq.UseRubric)
	require.Len(t, svc.lastReq.Items, 1)
	require.Equal(t, uint(15), *svc.graderID)
}

func TestUpdateRubricEndpointRejectsBadDefinition(t *testing.T) {
	app := newRubricApp(&stubRubricService{updErr: service.ErrInvalidRubric})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/grading/assessment-questions/8/rubric", strings.NewReader(`{"use_rubric": true}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.False(t, decodeResponse(t, resp).Success)
}
