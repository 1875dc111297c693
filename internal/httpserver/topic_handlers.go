package httpserver

import (
	"net/http"

	"chatcore/internal/domain"
	"chatcore/internal/service"
)

type groupCreateRequest struct {
	Name      string  `json:"name" validate:"required,max=128"`
	MemberIDs []int64 `json:"member_ids" validate:"dive,gt=0"`
}

type directCreateRequest struct {
	PeerID int64 `json:"peer_id" validate:"required,gt=0"`
}

type joinRequest struct {
	ByLink bool `json:"by_link"`
}

type addMemberRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type permissionRequest struct {
	Permission string `json:"permission" validate:"required,oneof=owner admin member"`
}

func (h *handlers) listTopics(w http.ResponseWriter, r *http.Request) {
	userID, ok := CurrentUserID(r)
	if !ok {
		h.writeError(w, r, domain.ErrUnauthorized)
		return
	}
	topics, err := h.Groups.ListTopics(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

func (h *handlers) createGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := CurrentUserID(r)
	if !ok {
		h.writeError(w, r, domain.ErrUnauthorized)
		return
	}
	var req groupCreateRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	topic, err := h.Groups.CreateGroup(r.Context(), userID, service.GroupCreateInput{
		Name:      req.Name,
		MemberIDs: req.MemberIDs,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, topic)
}

func (h *handlers) createDirect(w http.ResponseWriter, r *http.Request) {
	userID, ok := CurrentUserID(r)
	if !ok {
		h.writeError(w, r, domain.ErrUnauthorized)
		return
	}
	var req directCreateRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	topic, err := h.Groups.CreateDirect(r.Context(), userID, req.PeerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

func (h *handlers) listMembers(w http.ResponseWriter, r *http.Request) {
	userID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	subs, err := h.Groups.ListMembers(r.Context(), topicID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *handlers) joinGroup(w http.ResponseWriter, r *http.Request) {
	userID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req joinRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	e, err := h.Groups.JoinGroup(r.Context(), topicID, userID, req.ByLink)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *handlers) addMember(w http.ResponseWriter, r *http.Request) {
	actorID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req addMemberRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	e, err := h.Groups.AddMember(r.Context(), topicID, actorID, req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *handlers) removeMember(w http.ResponseWriter, r *http.Request) {
	actorID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, err := urlID(r, "userID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	e, err := h.Groups.RemoveMember(r.Context(), topicID, actorID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handlers) leaveGroup(w http.ResponseWriter, r *http.Request) {
	userID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	e, err := h.Groups.Leave(r.Context(), topicID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handlers) changePermission(w http.ResponseWriter, r *http.Request) {
	actorID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, err := urlID(r, "userID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req permissionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	e, err := h.Groups.ChangePermission(r.Context(), topicID, actorID, userID, req.Permission)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handlers) groupStatus(w http.ResponseWriter, r *http.Request) {
	userID, topicID, err := subject(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status, err := h.Presence.GroupStatus(r.Context(), userID, topicID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handlers) presenceStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Presence.Stats())
}
