package mapper

import (
	"ai-docqa-be/internal/dto"
	"ai-docqa-be/pkg/docqa"
	"ai-docqa-be/pkg/store"
)

type SessionMapper struct{}

func NewSessionMapper() *SessionMapper {
	return &SessionMapper{}
}

func (m *SessionMapper) ToStatus(s *store.Session) *dto.StatusResponse {
	if s == nil {
		return nil
	}
	return &dto.StatusResponse{
		SessionId:        s.ID,
		DocumentName:     s.DocumentName,
		Fingerprint:      s.DocumentFingerprint,
		VectorStoreReady: s.VectorStoreID != "",
		ThreadReady:      s.ThreadID != "",
		AssistantReady:   s.AssistantID != "",
		SharedHandles:    s.SharedHandles,
		Ready:            s.Ready(),
		Busy:             s.Busy,
		MessageCount:     len(s.Messages),
	}
}

func (m *SessionMapper) ToDocument(h docqa.DocumentHandle, s *store.Session) *dto.DocumentResponse {
	return &dto.DocumentResponse{
		Fingerprint:   h.Fingerprint,
		Name:          h.Name,
		VectorStoreId: h.VectorStoreID,
		ThreadId:      h.ThreadID,
		Reused:        h.Reused,
		Status:        m.ToStatus(s),
	}
}

func (m *SessionMapper) ToMessages(msgs []store.Message) []dto.MessageDTO {
	out := make([]dto.MessageDTO, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, dto.MessageDTO{
			Id:      msg.ID,
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return out
}

func (m *SessionMapper) ToAnswer(a docqa.Answer) *dto.AskResponse {
	res := &dto.AskResponse{
		Question: a.Question,
		Answer:   a.Text,
		Failed:   a.Failed,
		Messages: m.ToMessages(a.Messages),
	}
	if a.Err != nil {
		res.Error = a.Err.Error()
	}
	return res
}
