package handler

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/distribution"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/ingest"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/metrics"
)

// in-memory part of a multipart body, the rest spills to temp files
const multipartMemory = 8 << 20

type agentShare struct {
	AgentID int64 `json:"agentId"`
	Count   int   `json:"count"`
}

type uploadResponse struct {
	List            *domain.List `json:"list"`
	AssignmentCount int          `json:"assignmentCount"`
	Distribution    []agentShare `json:"distribution"`
}

// limitedBody remembers whether the upload limit was hit. The multipart
// parser does not wrap the read error, so the error chain cannot tell.
type limitedBody struct {
	io.ReadCloser
	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		b.exceeded = true
	}
	return n, err
}

func (h *Handler) UploadList(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.config.Upload.MaxBytes {
		h.rejectUpload(w, r, "file is too large")
		return
	}

	body := &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, h.config.Upload.MaxBytes)}
	r.Body = body
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		switch {
		case body.exceeded:
			h.rejectUpload(w, r, "file is too large")
		default:
			h.rejectUpload(w, r, "invalid multipart form")
		}
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		h.rejectUpload(w, r, "list name is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		switch {
		case errors.Is(err, http.ErrMissingFile):
			h.rejectUpload(w, r, "no file uploaded")
		default:
			h.rejectUpload(w, r, "invalid file")
		}
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.metrics.RecordUpload(metrics.UploadFailed, 0)
		h.internalServerError(w, r, err)
		return
	}

	rows, err := ingest.Parse(data, header.Filename)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrUnsupportedFormat), errors.Is(err, ingest.ErrEmptyFile):
			h.rejectUpload(w, r, err.Error())
		default:
			h.metrics.RecordUpload(metrics.UploadFailed, 0)
			h.internalServerError(w, r, err)
		}
		return
	}

	if err := ingest.ValidateColumns(rows); err != nil {
		h.rejectUpload(w, r, err.Error())
		return
	}
	records := ingest.NormalizeAll(rows)

	uploader := identity(r).UserID
	list := &domain.List{
		Name:       name,
		Rows:       rows,
		UploadedBy: &uploader,
	}

	assignments, err := h.repository.CreateDistributedList(r.Context(), list, func(roster []int64) ([]domain.Assignment, error) {
		return distribution.Distribute(records, roster)
	})
	if err != nil {
		switch {
		case errors.Is(err, distribution.ErrInsufficientAgents):
			h.rejectUpload(w, r, err.Error())
		default:
			h.metrics.RecordUpload(metrics.UploadFailed, 0)
			h.internalServerError(w, r, err)
		}
		return
	}
	h.metrics.RecordUpload(metrics.UploadAccepted, len(assignments))

	tally := distribution.Tally(assignments)
	h.notifyAgents(r, list, tally)

	shares := make([]agentShare, 0, len(tally))
	seen := make(map[int64]bool, len(tally))
	for _, a := range assignments {
		if seen[a.AgentID] {
			continue
		}
		seen[a.AgentID] = true
		shares = append(shares, agentShare{AgentID: a.AgentID, Count: tally[a.AgentID]})
	}

	summary := *list
	summary.Rows = nil
	h.createdResponse(w, r, "list uploaded and distributed successfully", uploadResponse{
		List:            &summary,
		AssignmentCount: len(assignments),
		Distribution:    shares,
	})
}

func (h *Handler) rejectUpload(w http.ResponseWriter, r *http.Request, msg string) {
	h.metrics.RecordUpload(metrics.UploadRejected, 0)
	h.errorResponse(w, r, http.StatusBadRequest, msg)
}

// notifyAgents queues one "assignments ready" mail per receiving agent. The
// list is already committed, failures are only logged.
func (h *Handler) notifyAgents(r *http.Request, list *domain.List, tally map[int64]int) {
	if h.mailPublisher == nil {
		return
	}

	agents, err := h.repository.GetAllAgents(r.Context())
	if err != nil {
		slog.Error("failed to load agents for notification", "list", list.ID, "error", err)
		return
	}

	for _, agent := range agents {
		count := tally[agent.ID]
		if count == 0 {
			continue
		}

		if err := h.publishMail(r.Context(), domain.MailMessage{
			Type: domain.MailAssignmentsReady,
			To:   agent.Email,
			Data: domain.AssignmentsReadyMailData{
				Name:     agent.Name,
				ListName: list.Name,
				Count:    count,
			},
		}); err != nil {
			slog.Error("failed to queue assignment mail", "list", list.ID, "agent", agent.ID, "error", err)
		}
	}
}

func (h *Handler) GetAllLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.repository.GetAllLists(r.Context())
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "lists fetched successfully", lists)
}

// GetList returns the whole list to admins. Agents get the metadata only,
// their rows are served through the assignments endpoints.
func (h *Handler) GetList(w http.ResponseWriter, r *http.Request) {
	list := r.Context().Value(ListInfoCtx).(*domain.List)

	if identity(r).Role != domain.RoleAdmin {
		summary := *list
		summary.Rows = nil
		list = &summary
	}

	h.successResponse(w, r, "list fetched successfully", list)
}

func (h *Handler) GetListAssignments(w http.ResponseWriter, r *http.Request) {
	list := r.Context().Value(ListInfoCtx).(*domain.List)

	var agentFilter *int64
	if caller := identity(r); caller.Role != domain.RoleAdmin {
		agentFilter = &caller.UserID
	}

	assignments, err := h.repository.GetAssignmentsByList(r.Context(), list.ID, agentFilter)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "assignments fetched successfully", assignments)
}

func (h *Handler) DeleteList(w http.ResponseWriter, r *http.Request) {
	list := r.Context().Value(ListInfoCtx).(*domain.List)

	if err := h.repository.DeleteList(r.Context(), list.ID); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.notFound(w, r, "list not found")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "list deleted successfully", nil)
}
