package agreement

import (
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pactform/pactform/internal/filestore"
	"github.com/pactform/pactform/internal/observability"
	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/shared"
)

const maxUploadMemory = 32 << 20

// FinalizerPort runs the finalization pipeline.
type FinalizerPort interface {
	Run(ctx context.Context, actorID string, ref shared.Ref, finalFiles []filestore.Upload) (*Agreement, error)
}

// Handler manages agreement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	finalizer FinalizerPort
	metrics   *observability.Metrics
	validate  *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, finalizer FinalizerPort, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		finalizer: finalizer,
		metrics:   metrics,
		validate:  validator.New(),
	}
}

// MountRoutes registers agreement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/my-documents", h.listMine)
	r.Post("/create", h.create)
	r.Post("/join", h.join)
	r.Post("/initiate-agreement", h.initiate)
	r.Get("/{ref}", h.get)
	r.Patch("/{ref}/finalize", h.finalize)
	r.Put("/{ref}/approve/{principal}", h.approve)
	r.Post("/{ref}/members/{principal}", h.addMember)
	r.Delete("/{ref}/members/{principal}", h.remove)
	r.Post("/{ref}/respond", h.respond)
}

type memberResponse struct {
	PrincipalID string     `json:"principal_id"`
	Approved    bool       `json:"approved"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	IsPrimary   bool       `json:"is_primary"`
}

type agreementResponse struct {
	ID          string           `json:"id"`
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Location    string           `json:"location,omitempty"`
	StartDate   *time.Time       `json:"start_date,omitempty"`
	EndDate     *time.Time       `json:"end_date,omitempty"`
	PrimaryID   string           `json:"primary_id"`
	RawDocs     []string         `json:"raw_documents"`
	FinalDocs   []string         `json:"final_documents,omitempty"`
	DailyRate   float64          `json:"daily_rate"`
	TotalDays   int              `json:"total_days"`
	TotalAmount float64          `json:"total_amount"`
	Status      Status           `json:"status"`
	Locked      bool             `json:"locked"`
	ChainHash   string           `json:"chain_hash,omitempty"`
	Members     []memberResponse `json:"members,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func toResponse(a *Agreement, members []Member) agreementResponse {
	resp := agreementResponse{
		ID:          a.ID,
		Code:        a.Code,
		Name:        a.Name,
		Location:    a.Location,
		StartDate:   a.StartDate,
		EndDate:     a.EndDate,
		PrimaryID:   a.PrimaryID,
		RawDocs:     a.RawDocs,
		FinalDocs:   a.FinalDocs,
		DailyRate:   a.DailyRate,
		TotalDays:   a.TotalDays,
		TotalAmount: a.TotalAmount,
		Status:      a.Status,
		Locked:      a.Locked,
		ChainHash:   a.ChainHash,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	for _, m := range members {
		resp.Members = append(resp.Members, memberResponse{
			PrincipalID: m.PrincipalID,
			Approved:    m.Approved,
			ApprovedAt:  m.ApprovedAt,
			IsPrimary:   m.IsPrimary,
		})
	}
	return resp
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	agreements, err := h.service.ListMine(r.Context(), actor)
	if err != nil {
		h.logger.Error("list agreements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]agreementResponse, 0, len(agreements))
	for i := range agreements {
		out = append(out, toResponse(&agreements[i], nil))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	uploads, closeFiles, err := formUploads(r, "files")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	defer closeFiles()

	input := CreateInput{
		Name:     r.FormValue("name"),
		Location: r.FormValue("location"),
	}
	input.StartDate, err = parseDate(r.FormValue("start_date"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.EndDate, err = parseDate(r.FormValue("end_date"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	a, err := h.service.Create(r.Context(), actor, input, uploads)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(a, nil))
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	uploads, closeFiles, err := formUploads(r, "files")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	defer closeFiles()

	ref := shared.ParseRef(r.FormValue("document_code"))
	a, err := h.service.Join(r.Context(), actor, ref, uploads)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(a, nil))
}

type initiateRequest struct {
	Target   string `json:"target" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Location string `json:"location"`
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	var req initiateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	a, err := h.service.Initiate(r.Context(), actor, req.Target, req.Name, req.Location)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(a, nil))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	a, members, err := h.service.Get(r.Context(), actor, shared.ParseRef(chi.URLParam(r, "ref")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(a, members))
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	uploads, closeFiles, err := formUploads(r, "files")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	defer closeFiles()

	a, err := h.finalizer.Run(r.Context(), actor, shared.ParseRef(chi.URLParam(r, "ref")), uploads)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.metrics.AgreementFinalized()
	httpx.JSON(w, http.StatusOK, toResponse(a, nil))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	a, err := h.service.Approve(r.Context(), actor,
		shared.ParseRef(chi.URLParam(r, "ref")), chi.URLParam(r, "principal"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(a, nil))
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	err := h.service.AddParticipant(r.Context(), actor,
		shared.ParseRef(chi.URLParam(r, "ref")), chi.URLParam(r, "principal"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	err := h.service.Remove(r.Context(), actor,
		shared.ParseRef(chi.URLParam(r, "ref")), chi.URLParam(r, "principal"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	uploads, closeFiles, err := formUploads(r, "files")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	defer closeFiles()

	accept := r.FormValue("action") == "accept"
	a, err := h.service.Respond(r.Context(), actor,
		shared.ParseRef(chi.URLParam(r, "ref")), accept, uploads)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(a, nil))
}

// formUploads opens every file under the multipart field, returning uploads
// plus a closer for the opened handles.
func formUploads(r *http.Request, field string) ([]filestore.Upload, func(), error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && err != http.ErrNotMultipart {
		return nil, func() {}, err
	}
	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File[field]
	}

	var uploads []filestore.Upload
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		opened = append(opened, f)
		uploads = append(uploads, filestore.Upload{Name: fh.Filename, Reader: f})
	}
	return uploads, closeAll, nil
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed date %q", httpx.ErrValidation, value)
	}
	return &t, nil
}
