package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

const (
	startTimeout  = 30 * time.Second
	loadTimeout   = 20 * time.Second
	submitTimeout = 60 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live exam session over a WebSocket.
type WSHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// wsSession is the per-connection state of one stream.
type wsSession struct {
	conn    *ws.Conn
	ctrl    *proctor.Controller
	monitor *socketFullscreen
	log     zerolog.Logger
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket and attaches the connection to the student's live
// session. Reconnecting resumes the same session.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims, examID, ok := examRequest(c)
	if !ok {
		return
	}
	studentID := claims.UserID

	// SECURITY: Only students who joined the exam may open a stream.
	if err := h.sessionService.VerifyActiveSession(c.Request.Context(), examID, studentID); err != nil {
		failWith(c, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	ctrl := h.sessionService.Acquire(examID, studentID)
	s := &wsSession{
		conn:    conn,
		ctrl:    ctrl,
		monitor: newSocketFullscreen(conn, wsLog),
		log:     wsLog.With().Str("session_id", ctrl.SessionID().String()).Logger(),
	}

	ctrl.Attach(s.monitor, proctor.EventSinkFunc(s.forward))
	defer func() {
		ctrl.Detach(s.monitor)
		h.sessionService.Release(context.Background(), examID, studentID)
	}()

	s.log.Info().Str("state", string(ctrl.State())).Msg("Student connected")
	s.writeState()

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.writeCode(response.ErrInvalidPayload)
			continue
		}
		s.dispatch(env.Action, data)
	}
}

func (s *wsSession) dispatch(action ws.Action, data []byte) {
	switch action {
	case ws.ActionPreflight:
		s.handlePreflight(data)
	case ws.ActionLoadQuestions:
		s.handleLoadQuestions()
	case ws.ActionAnswer:
		s.handleAnswer(data)
	case ws.ActionClear:
		s.handleClear(data)
	case ws.ActionBookmark:
		s.handleBookmark(data)
	case ws.ActionNavigate:
		s.handleNavigate(data)
	case ws.ActionAdvanceSubject:
		s.handleAdvanceSubject(data)
	case ws.ActionFullscreen:
		s.handleFullscreen(data)
	case ws.ActionAcknowledge:
		s.handleAcknowledge()
	case ws.ActionSubmit:
		s.handleSubmit(data)
	case ws.ActionRetrySubmit:
		s.handleRetrySubmit()
	case ws.ActionRequestReview:
		s.handleRequestReview(data)
	case ws.ActionState:
		s.writeState()
	case ws.ActionPing:
		s.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
	default:
		s.log.Warn().Str("action", string(action)).Msg("Unknown action")
		s.writeCode(response.ErrUnknownAction)
	}
}

// forward relays controller notifications to the client.
func (s *wsSession) forward(ev proctor.Event) {
	event, ok := ws.SessionEvents[ev.Kind]
	if !ok {
		return
	}
	if err := s.conn.WriteTyped(ws.SessionEventResponse{Event: event, Data: ev}); err != nil {
		s.log.Debug().Err(err).Str("kind", string(ev.Kind)).Msg("Event not delivered")
	}
}

func (s *wsSession) handlePreflight(data []byte) {
	var req ws.PreflightRequest
	if !s.decode(data, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	if err := s.ctrl.Start(ctx, req.Report); err != nil {
		s.log.Warn().Err(err).Msg("Session start failed")
		s.writeErr(err)
		return
	}
	s.writeState()
}

func (s *wsSession) handleLoadQuestions() {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	if err := s.ctrl.LoadQuestions(ctx); err != nil {
		s.writeErr(err)
		return
	}
	subject, questions, ok := s.ctrl.Questions()
	if !ok {
		s.writeErr(proctor.ErrQuestionsNotReady)
		return
	}
	s.conn.WriteTyped(ws.QuestionsResponse{Event: ws.EventQuestions, Subject: subject, Questions: questions})
}

func (s *wsSession) handleAnswer(data []byte) {
	var req ws.AnswerRequest
	if !s.decode(data, &req) {
		return
	}
	resp, err := s.ctrl.Answer(*req.Index, req.Option)
	s.writeSaved(*req.Index, resp, err)
}

func (s *wsSession) handleClear(data []byte) {
	var req ws.ClearRequest
	if !s.decode(data, &req) {
		return
	}
	resp, err := s.ctrl.ClearAnswer(*req.Index)
	s.writeSaved(*req.Index, resp, err)
}

func (s *wsSession) handleBookmark(data []byte) {
	var req ws.BookmarkRequest
	if !s.decode(data, &req) {
		return
	}
	resp, err := s.ctrl.Bookmark(*req.Index, req.Bookmarked)
	s.writeSaved(*req.Index, resp, err)
}

func (s *wsSession) handleNavigate(data []byte) {
	var req ws.NavigateRequest
	if !s.decode(data, &req) {
		return
	}

	var (
		index int
		err   error
	)
	switch req.Direction {
	case ws.DirectionNext:
		index, err = s.ctrl.Next()
	case ws.DirectionPrevious:
		index, err = s.ctrl.Previous()
	case ws.DirectionGoto:
		if req.Index == nil {
			s.conn.WriteFields(string(response.ErrValidation), map[string]string{"index": "index is required for goto"})
			return
		}
		index = *req.Index
		err = s.ctrl.Goto(index)
	}
	if err != nil {
		s.writeErr(err)
		return
	}
	s.conn.WriteTyped(ws.NavigatedResponse{Event: ws.EventNavigated, Index: index})
}

func (s *wsSession) handleAdvanceSubject(data []byte) {
	var req ws.AdvanceSubjectRequest
	if !s.decode(data, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	var (
		res proctor.AdvanceResult
		err error
	)
	if req.From != nil {
		res, err = s.ctrl.AdvanceSubjectFrom(ctx, *req.From, req.Confirmed)
	} else {
		res, err = s.ctrl.AdvanceSubject(ctx, req.Confirmed)
	}
	if err != nil {
		s.writeErr(err)
		return
	}
	s.conn.WriteTyped(ws.AdvanceResponse{Event: ws.EventAdvance, Result: res})
}

func (s *wsSession) handleFullscreen(data []byte) {
	var req ws.FullscreenRequest
	if !s.decode(data, &req) {
		return
	}
	s.monitor.report(*req.Active)
}

func (s *wsSession) handleAcknowledge() {
	if err := s.ctrl.Acknowledge(); err != nil {
		s.writeErr(err)
		return
	}
	s.conn.WriteTyped(ws.AckResponse{Event: ws.EventAcknowledged})
}

func (s *wsSession) handleSubmit(data []byte) {
	var req ws.SubmitRequest
	if !s.decode(data, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	out, err := s.ctrl.Submit(ctx, req.Reason)
	if err != nil {
		s.writeErr(err)
		return
	}
	s.log.Info().Str("kind", string(out.Kind)).Str("reason", string(out.Reason)).Msg("Exam submitted")
	s.conn.WriteTyped(ws.OutcomeResponse{Event: ws.EventOutcome, Outcome: out})
}

func (s *wsSession) handleRetrySubmit() {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	out, err := s.ctrl.RetrySubmit(ctx)
	if err != nil {
		s.writeErr(err)
		return
	}
	s.conn.WriteTyped(ws.OutcomeResponse{Event: ws.EventOutcome, Outcome: out})
}

func (s *wsSession) handleRequestReview(data []byte) {
	var req ws.ReviewRequest
	if !s.decode(data, &req) {
		return
	}
	if err := s.ctrl.RequestReview(req.Note); err != nil {
		s.writeErr(err)
		return
	}
	s.conn.WriteTyped(ws.AckResponse{Event: ws.EventReviewRequested})
}

func (s *wsSession) decode(data []byte, dst interface{}) bool {
	if fields := validator.DecodeFrame(data, dst); fields != nil {
		s.conn.WriteFields(string(response.ErrValidation), fields)
		return false
	}
	return true
}

func (s *wsSession) writeSaved(index int, resp model.Response, err error) {
	if err != nil {
		s.writeErr(err)
		return
	}
	s.conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, Index: index, Response: resp})
}

func (s *wsSession) writeState() {
	s.conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Data: s.ctrl.Snapshot()})
}

func (s *wsSession) writeErr(err error) {
	_, code := sessionErrorCode(err)
	s.writeCode(code)
}

func (s *wsSession) writeCode(code response.ErrCode) {
	s.conn.WriteError(string(code), response.GetMessage(code))
}
