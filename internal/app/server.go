package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/babelcast/internal/health"
	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/internal/pipeline"
	"github.com/MrWong99/babelcast/internal/translate"
	provider "github.com/MrWong99/babelcast/pkg/provider/translate"
	"github.com/MrWong99/babelcast/pkg/publish"
	"github.com/MrWong99/babelcast/pkg/voice"
)

const (
	maxSampleBytes    = 20 << 20
	defaultSampleDir  = "samples"
	defaultSimilarK   = 5
	maxTranslateBytes = 64 << 10
)

var speakerPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Handler returns the HTTP API wrapped in the observability middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	health.New(
		health.Flag("pipeline", a.pipeline.Running, "pipeline is not running"),
		health.Ping("voices", a.voices),
		health.Checker{Name: "publisher", Check: a.checkPublisher},
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("GET /connection-info", a.handleConnectionInfo)
	mux.HandleFunc("POST /translate", a.handleTranslate)
	mux.Handle("POST /voices/{speaker}/sample", a.limitUploads(http.HandlerFunc(a.handleUploadSample)))
	mux.HandleFunc("GET /voices/{speaker}/status", a.handleVoiceStatus)
	mux.HandleFunc("GET /voices/{speaker}/similar", a.handleSimilar)
	mux.HandleFunc("PUT /languages/{lang}/speaker", a.handleSetSpeaker)
	a.relay.Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

// checkPublisher fails when every lane that has published is failing.
func (a *App) checkPublisher(context.Context) error {
	lanes := a.publisher.Status()
	if len(lanes) == 0 {
		return nil
	}
	for _, l := range lanes {
		if l.Connected || l.LastError == "" {
			return nil
		}
	}
	return fmt.Errorf("all %d lanes failing: %s", len(lanes), lanes[0].LastError)
}

func (a *App) limitUploads(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.uploads.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many uploads")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Status ──────────────────────────────────────────────────────────────────

type providerStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

type statusResponse struct {
	Uptime         string               `json:"uptime"`
	SourceLanguage string               `json:"source_language"`
	Targets        []string             `json:"target_languages"`
	Pipeline       pipeline.Stats       `json:"pipeline"`
	Translators    []providerStatus     `json:"translators"`
	Lanes          []publish.LaneStatus `json:"lanes"`
	Listeners      map[string]int       `json:"listeners"`
	ActiveSpeakers map[string]string    `json:"active_speakers"`
	Voices         map[voice.Status]int `json:"voices"`
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	avail := a.chain.Available()
	translators := make([]providerStatus, 0, len(avail))
	for _, name := range a.chain.Names() {
		translators = append(translators, providerStatus{Name: name, Available: avail[name]})
	}
	voices := make(map[voice.Status]int)
	for _, p := range a.voices.Profiles() {
		voices[p.Status]++
	}
	var uptime time.Duration
	if !a.started.IsZero() {
		uptime = time.Since(a.started).Truncate(time.Second)
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Uptime:         uptime.String(),
		SourceLanguage: a.cfg.Pipeline.SourceLanguage,
		Targets:        a.fanout.Languages(),
		Pipeline:       a.pipeline.Stats(),
		Translators:    translators,
		Lanes:          a.publisher.Status(),
		Listeners:      a.relay.Listeners(),
		ActiveSpeakers: a.voices.ActiveSpeakers(),
		Voices:         voices,
	})
}

// ─── Connection info ─────────────────────────────────────────────────────────

type languageInfo struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
	Token   string `json:"token,omitempty"`
}

type connectionInfo struct {
	Room      string                  `json:"room"`
	Server    string                  `json:"server"`
	Languages map[string]languageInfo `json:"languages"`
	JoinLink  string                  `json:"join_link,omitempty"`
}

func (a *App) handleConnectionInfo(w http.ResponseWriter, _ *http.Request) {
	info := connectionInfo{
		Room:      a.cfg.Publish.Room,
		Server:    a.cfg.Server.PublicURL,
		Languages: make(map[string]languageInfo),
	}
	for _, lang := range a.fanout.Languages() {
		li := languageInfo{
			Name:    provider.DisplayName(lang),
			Channel: publish.ChannelName(a.cfg.Publish.Room, lang),
		}
		if a.issuer != nil {
			tok, err := a.issuer.Listener("listener-"+lang, li.Channel)
			if err != nil {
				slog.Error("app: issue listener token", "lang", lang, "err", err)
				writeError(w, http.StatusInternalServerError, "cannot issue token")
				return
			}
			li.Token = tok
		}
		info.Languages[lang] = li
	}
	payload, err := json.Marshal(info)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	info.JoinLink = base64.URLEncoding.EncodeToString(payload)
	writeJSON(w, http.StatusOK, info)
}

// ─── Translate ───────────────────────────────────────────────────────────────

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

type translationEntry struct {
	Text     string `json:"text"`
	Outcome  string `json:"outcome"`
	Provider string `json:"provider,omitempty"`
}

type translateResponse struct {
	UtteranceID  string                      `json:"utterance_id"`
	Source       string                      `json:"source"`
	SourceLang   string                      `json:"source_lang"`
	Translations map[string]translationEntry `json:"translations"`
}

func (a *App) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTranslateBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Source == "" {
		req.Source = a.cfg.Pipeline.SourceLanguage
	}
	set := a.fanout.Translate(r.Context(), translate.RecognitionResult{
		UtteranceID: uuid.NewString(),
		Text:        req.Text,
		Language:    req.Source,
	})
	resp := translateResponse{
		UtteranceID:  set.UtteranceID,
		Source:       set.Source,
		SourceLang:   set.SourceLang,
		Translations: make(map[string]translationEntry, len(set.Entries)),
	}
	for lang, e := range set.Entries {
		resp.Translations[lang] = translationEntry{Text: e.Text, Outcome: string(e.Outcome), Provider: e.Provider}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Voices ──────────────────────────────────────────────────────────────────

type profileResponse struct {
	Speaker   string       `json:"speaker"`
	Status    voice.Status `json:"status"`
	Lang      string       `json:"lang,omitempty"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt *time.Time   `json:"updated_at,omitempty"`
}

func newProfileResponse(p voice.Profile) profileResponse {
	resp := profileResponse{Speaker: p.SpeakerID, Status: p.Status, Lang: p.Lang, Error: p.Error}
	if !p.UpdatedAt.IsZero() {
		t := p.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}

func speakerParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	speaker := r.PathValue("speaker")
	if !speakerPattern.MatchString(speaker) {
		writeError(w, http.StatusBadRequest, "speaker must be 1-64 letters, digits, '-' or '_'")
		return "", false
	}
	return speaker, true
}

func (a *App) handleUploadSample(w http.ResponseWriter, r *http.Request) {
	speaker, ok := speakerParam(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSampleBytes)
	file, _, err := r.FormFile("sample")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "sample too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"sample\" is required")
		return
	}
	defer file.Close()

	dir := a.cfg.Voices.SampleDir
	if dir == "" {
		dir = defaultSampleDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("app: create sample dir", "dir", dir, "err", err)
		writeError(w, http.StatusInternalServerError, "cannot store sample")
		return
	}
	path := filepath.Join(dir, speaker+".wav")
	if err := writeSample(path, file); err != nil {
		slog.Error("app: store sample", "path", path, "err", err)
		writeError(w, http.StatusInternalServerError, "cannot store sample")
		return
	}
	if !a.voices.ProcessSample(path, speaker) {
		writeError(w, http.StatusUnprocessableEntity, "sample could not be queued")
		return
	}
	p, _ := a.voices.Profile(speaker)
	writeJSON(w, http.StatusAccepted, newProfileResponse(p))
}

// writeSample writes to a temporary file first so a concurrent reader never
// sees a partial sample.
func writeSample(path string, src io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (a *App) handleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	speaker, ok := speakerParam(w, r)
	if !ok {
		return
	}
	p, ok := a.voices.Profile(speaker)
	if !ok {
		writeJSON(w, http.StatusNotFound, profileResponse{Speaker: speaker, Status: voice.StatusNotFound})
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(p))
}

type similarMatch struct {
	Speaker  string  `json:"speaker"`
	Distance float64 `json:"distance"`
}

func (a *App) handleSimilar(w http.ResponseWriter, r *http.Request) {
	speaker, ok := speakerParam(w, r)
	if !ok {
		return
	}
	k := defaultSimilarK
	if s := r.URL.Query().Get("k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "k must be between 1 and 100")
			return
		}
		k = n
	}
	matches, err := a.voices.Similar(r.Context(), speaker, k)
	if errors.Is(err, voice.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown speaker")
		return
	}
	if err != nil {
		slog.Error("app: similar speakers", "speaker", speaker, "err", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	out := make([]similarMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, similarMatch{Speaker: m.SpeakerID, Distance: m.Distance})
	}
	writeJSON(w, http.StatusOK, out)
}

type setSpeakerRequest struct {
	Speaker string `json:"speaker"`
}

func (a *App) handleSetSpeaker(w http.ResponseWriter, r *http.Request) {
	lang := r.PathValue("lang")
	if !slices.Contains(a.fanout.Languages(), lang) {
		writeError(w, http.StatusNotFound, "not a target language")
		return
	}
	var req setSpeakerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Speaker != "" && !speakerPattern.MatchString(req.Speaker) {
		writeError(w, http.StatusBadRequest, "invalid speaker")
		return
	}
	if err := a.voices.SetActiveSpeaker(r.Context(), lang, req.Speaker); err != nil {
		slog.Error("app: set active speaker", "lang", lang, "err", err)
		writeError(w, http.StatusInternalServerError, "cannot set speaker")
		return
	}
	p, ok := a.voices.ActiveProfile(lang)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"lang": lang, "speaker": ""})
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(p))
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("app: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
