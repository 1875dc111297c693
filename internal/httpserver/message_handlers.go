package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chatcore/internal/domain"
	"chatcore/internal/service"
	"chatcore/internal/visibility"
)

// connectionHeader names the socket a REST call comes from, so that socket
// is skipped when the user's other devices are told about it.
const connectionHeader = "X-Connection-ID"

type messageCreateRequest struct {
	Content      string `json:"content" validate:"required"`
	ReplyToSeqID *int64 `json:"reply_to_seq_id" validate:"omitempty,gt=0"`
}

type cursorRequest struct {
	SeqID int64 `json:"seq_id" validate:"required,gt=0"`
}

// historyQuery reads before/after/limit/tz from the query string. Only one
// of before and after may be set.
func (h *handlers) historyQuery(r *http.Request, userID, topicID int64) (visibility.HistoryQuery, bool, error) {
	q := visibility.HistoryQuery{TopicID: topicID, UserID: userID, Limit: h.Config.HistoryPageSize}
	values := r.URL.Query()

	before, after := values.Get("before"), values.Get("after")
	if before != "" && after != "" {
		return q, false, fmt.Errorf("before and after are exclusive: %w", domain.ErrInvalidInput)
	}
	anchor := before
	if after != "" {
		anchor = after
	}
	if anchor != "" {
		n, err := strconv.ParseInt(anchor, 10, 64)
		if err != nil || n < 0 {
			return q, false, fmt.Errorf("invalid anchor %q: %w", anchor, domain.ErrInvalidInput)
		}
		q.Anchor = n
	}

	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return q, false, fmt.Errorf("invalid limit %q: %w", v, domain.ErrInvalidInput)
		}
		q.Limit = min(n, h.Config.MaxHistoryPageSize)
	}

	if tz := values.Get("tz"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return q, false, fmt.Errorf("unknown time zone %q: %w", tz, domain.ErrInvalidInput)
		}
		q.Location = loc
	}
	return q, after != "", nil
}

func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	userID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q, after, err := h.historyQuery(r, userID, topicID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.Messages.History(r.Context(), q, after)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) createMessage(w http.ResponseWriter, r *http.Request) {
	userID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req messageCreateRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.Messages.Send(r.Context(), userID, service.MessageCreateInput{
		TopicID:      topicID,
		Content:      req.Content,
		ReplyToSeqID: req.ReplyToSeqID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *handlers) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	seqID, err := urlID(r, "seqID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	mode := service.DeleteMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = service.DeleteForMe
	}
	if err := h.Messages.Delete(r.Context(), userID, topicID, seqID, mode); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) messageAccessible(w http.ResponseWriter, r *http.Request) {
	userID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	seqID, err := urlID(r, "seqID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ok, err := h.Visibility.IsMessageAccessible(r.Context(), topicID, userID, seqID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seq_id": seqID, "accessible": ok})
}

func (h *handlers) readCursor(w http.ResponseWriter, r *http.Request) {
	userID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Visibility.ReadCursor(r.Context(), topicID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) unreadCount(w http.ResponseWriter, r *http.Request) {
	userID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.Visibility.UnreadCount(r.Context(), topicID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic_id": topicID, "unread": n})
}

func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
	h.advanceCursor(w, r, h.Messages.MarkRead)
}

func (h *handlers) markReceived(w http.ResponseWriter, r *http.Request) {
	h.advanceCursor(w, r, h.Messages.MarkReceived)
}

type markFunc func(ctx context.Context, userID int64, connectionID string, topicID, seqID int64) (bool, error)

func (h *handlers) advanceCursor(w http.ResponseWriter, r *http.Request, mark markFunc) {
	userID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req cursorRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	advanced, err := mark(r.Context(), userID, r.Header.Get(connectionHeader), topicID, req.SeqID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seq_id": req.SeqID, "advanced": advanced})
}
