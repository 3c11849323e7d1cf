package sigdispatch

import (
	"fmt"
	"html"
	"net/http"
	"sort"
	"strings"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/ownership"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/sigctx"
)

// HTTPHandler returns a page showing whether i owns the process signal
// handlers and what it has delivered. POSTing the form opens or closes i.
func (i *Isolate) HTTPHandler() http.Handler {
	return httpHandler{i: i}
}

type httpHandler struct {
	i *Isolate
}

func (h httpHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// GETs render the current state.
	if req.Method == http.MethodGet {
		h.handleGet(w)
		return
	}
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		h.i.cfg.errorLogger(fmt.Errorf("failed to parse form: %w", err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch {
	case req.Form.Has("close"):
		if rc := h.i.Close(); rc != Success {
			w.WriteHeader(http.StatusConflict)
			return
		}
	case req.Form.Has("open"):
		switch h.i.Open() {
		case Success:
		case AlreadyClaimed:
			w.WriteHeader(http.StatusConflict)
			return
		default:
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	default:
		h.i.cfg.errorLogger(fmt.Errorf("invalid POST: missing open/close"))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Generate the page after the update.
	h.handleGet(w)
}

func (h httpHandler) handleGet(w http.ResponseWriter) {
	s := h.i.running()

	statusStr, color := "not open", "red"
	if s != nil {
		statusStr, color = "open", "green"
	} else if owner, ok := ownership.Process().Owner(); ok {
		statusStr = "claimed by " + owner.String()
	}

	sb := strings.Builder{}
	sb.WriteString(`<html>
<head>
	<title>Signal dispatch</title>
	<style>
	.circle {
		height: 21px;
		width: 21px;
		border-radius: 50%;
		display: inline-block;
	}
	</style>
</head>
<body>
<h1>Signal dispatch</h1>
<form action="" method="POST">
<div style="
	display:grid;
	gap:3px;
	grid-template-columns: 9em 30em;
	margin-bottom: 10px;"
	>
`)
	sb.WriteString(fmt.Sprintf(`
<div>Isolate:</div><div>%s</div>
<div>Status:</div>
<div style="display:flex; flex-direction:row; align-items:center; gap:3px">
	<div class="circle" style="background-color:%s;"></div>
	<span>%s</span>
</div>`, h.i.id, color, html.EscapeString(statusStr)))

	if s != nil {
		st := s.Status()
		sb.WriteString(fmt.Sprintf("<div>Dispatcher:</div><div>%s</div>\n", st.State))
		sb.WriteString(fmt.Sprintf("<div>Binary:</div><div>%s</div>\n", st.BinaryHash))
		sigs := append([]int(nil), st.Signals...)
		sort.Ints(sigs)
		for _, sig := range sigs {
			name := sigctx.Name(sig)
			if name == "" {
				name = fmt.Sprintf("signal %d", sig)
			}
			sb.WriteString(fmt.Sprintf("<div>%s:</div><div>%d delivered, %d pending</div>\n",
				name, st.Delivered[sig], st.Pending[sig]))
		}
	}

	openAttribute, closeAttribute := "", "disabled"
	if s != nil {
		openAttribute, closeAttribute = "disabled", ""
	}
	sb.WriteString(fmt.Sprintf(`
</div>
<input type="submit" value="Open" name="open" %s/>
<input type="submit" value="Close" name="close" %s/>
</form>
</body>
</html>`, openAttribute, closeAttribute))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(sb.String())); err != nil {
		h.i.cfg.errorLogger(fmt.Errorf("failed to write response: %w", err))
	}
}
