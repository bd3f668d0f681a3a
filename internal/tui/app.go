package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/cohere"
	"github.com/mgomes/sefind/internal/config"
	"github.com/mgomes/sefind/internal/dupes"
	"github.com/mgomes/sefind/internal/events"
	"github.com/mgomes/sefind/internal/invoke"
	"github.com/mgomes/sefind/internal/logging"
	"github.com/mgomes/sefind/internal/pipeline"
	"github.com/mgomes/sefind/internal/query"
	"github.com/mgomes/sefind/internal/transport"
)

type Page int

const (
	PageSearch Page = iota
	PageIndex
	PageDupes
	PageDiagnostics
	PageSettings
	pageCount
)

var pageNames = [pageCount]string{"Search", "Index", "Duplicates", "Diagnostics", "Settings"}

const (
	inputQuery = iota
	inputExt
	inputMinMB
	inputMaxMB
	inputCount
)

// Deps are the collaborators of the interface.
type Deps struct {
	Client    *invoke.Client
	Transport transport.Transport
	Clock     clockwork.Clock
	// ValidateKey checks a Cohere API key before it is saved. Nil uses the
	// Cohere API.
	ValidateKey func(ctx context.Context, cfg config.Config) error
}

// App is the root model. The coordinators it drives report changes through
// a one slot channel; the model turns each signal into a redraw.
type App struct {
	ctx         context.Context
	cancel      context.CancelFunc
	client      *invoke.Client
	clock       clockwork.Clock
	validateKey func(ctx context.Context, cfg config.Config) error

	changed  chan struct{}
	pipe     *pipeline.Controller
	query    *query.Coordinator
	dupes    *dupes.Coordinator
	subs     *events.Manager
	teardown func()

	cfg          config.Config
	page         Page
	inputs       [inputCount]textinput.Model
	focus        int
	relative     bool
	contentParse bool
	dupFilter    dupes.Filter
	dupSel       int
	diag         *api.DiagnosticsReport
	settings     SettingsModel
	status       string
	width        int
	height       int
}

func NewApp(deps Deps) *App {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.ValidateKey == nil {
		deps.ValidateKey = validateCohereKey
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &App{
		ctx:         ctx,
		cancel:      cancel,
		client:      deps.Client,
		clock:       deps.Clock,
		validateKey: deps.ValidateKey,
		changed:     make(chan struct{}, 1),
		dupFilter:   dupes.All,
		settings:    NewSettingsModel(),
	}

	m.pipe = pipeline.New(deps.Client, func(pipeline.Progress) { m.signal() })
	m.query = query.New(ctx, deps.Client, deps.Clock, func(query.View) { m.signal() })
	m.dupes = dupes.New(deps.Client, m.pipe, func(dupes.View) { m.signal() })

	for i := range m.inputs {
		in := textinput.New()
		in.Width = 40
		m.inputs[i] = in
	}
	m.inputs[inputQuery].Placeholder = "search file names..."
	m.inputs[inputQuery].Width = 60
	m.inputs[inputExt].Placeholder = "pdf, docx"
	m.inputs[inputMinMB].Placeholder = "min MB"
	m.inputs[inputMaxMB].Placeholder = "max MB"
	m.inputs[inputQuery].Focus()

	m.subs = events.NewManager(deps.Transport, deps.Clock, "pipeline")
	m.teardown = m.subs.Activate(ctx, true, m.pipe.Subscriptions())
	return m
}

// Close releases the event subscriptions and stops pending searches.
func (m *App) Close() {
	m.teardown()
	m.cancel()
}

func (m *App) signal() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

func (m *App) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changed:
			return changedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func validateCohereKey(ctx context.Context, cfg config.Config) error {
	client := cohere.NewClient(cfg.CohereAPIKey, cfg.EmbedModel, cfg.RerankModel, cfg.EmbedDim)
	return client.ValidateAPIKey(ctx)
}

func (m *App) Init() tea.Cmd {
	return tea.Batch(m.waitForChange(), m.loadConfig(), textinput.Blink)
}

func (m *App) loadConfig() tea.Cmd {
	return func() tea.Msg {
		cfg, err := m.client.ReadConfig(m.ctx)
		return configMsg{cfg: cfg, err: err}
	}
}

func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case changedMsg:
		return m, m.waitForChange()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case configMsg:
		return m, m.applyConfig(msg)

	case pipelineDoneMsg:
		if msg.err != nil {
			m.status = "index failed: " + msg.err.Error()
		}
		return m, nil

	case autoScanMsg:
		if msg.err != nil {
			m.status = "auto scan: " + msg.err.Error()
			logging.Failure(api.CmdStartAutoScanNow, msg.err)
		}
		return m, nil

	case dupesDoneMsg:
		m.dupSel = 0
		return m, nil

	case deletedMsg:
		if msg.err == nil {
			m.query.Forget(msg.path)
			m.status = "deleted " + msg.path
		}
		return m, nil

	case openedMsg:
		if msg.err != nil {
			m.status = "open failed: " + msg.err.Error()
			logging.Failure(api.CmdOpenLocation, msg.err, "path", msg.path)
		}
		return m, nil

	case diagMsg:
		if msg.err != nil {
			m.status = "diagnostics failed: " + msg.err.Error()
			logging.Failure(api.CmdDiagnosticsReport, msg.err)
			return m, nil
		}
		m.diag = msg.report
		return m, nil

	case SettingsSubmitMsg:
		return m, m.saveConfig(msg)

	case tea.KeyMsg:
		if cmd, ok := m.globalKey(msg); ok {
			return m, cmd
		}
		switch m.page {
		case PageSearch:
			return m, m.searchKey(msg)
		case PageIndex:
			return m, m.indexKey(msg)
		case PageDupes:
			return m, m.dupesKey(msg)
		case PageDiagnostics:
			return m, m.diagKey(msg)
		case PageSettings:
			if msg.String() == "ctrl+r" {
				return m, m.resetConfig()
			}
			var cmd tea.Cmd
			m.settings, cmd = m.settings.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	switch m.page {
	case PageSearch:
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	case PageSettings:
		m.settings, cmd = m.settings.Update(msg)
	}
	return m, cmd
}

func (m *App) applyConfig(msg configMsg) tea.Cmd {
	if msg.err != nil {
		logging.Failure("config", msg.err)
		m.status = "config: " + msg.err.Error()
		if m.page == PageSettings {
			return func() tea.Msg { return SettingsErrorMsg{Error: msg.err.Error()} }
		}
		return nil
	}
	if msg.cfg == nil {
		return nil
	}

	m.cfg = *msg.cfg
	m.settings = m.settings.Load(m.cfg)
	m.query.SetIndexDir(m.cfg.IndexDir)
	m.dupes.Configure(m.scanOptions(), m.cfg.IndexDir)
	if msg.saved {
		m.status = "settings saved"
	}
	return nil
}

func (m *App) saveConfig(msg SettingsSubmitMsg) tea.Cmd {
	cfg := msg.Config
	return func() tea.Msg {
		if msg.KeyChanged && cfg.CohereAPIKey != "" {
			if err := m.validateKey(m.ctx, cfg); err != nil {
				return SettingsErrorMsg{Error: "Invalid API key: " + err.Error()}
			}
		}
		saved, err := m.client.WriteConfig(m.ctx, &cfg)
		return configMsg{cfg: saved, saved: true, err: err}
	}
}

func (m *App) resetConfig() tea.Cmd {
	return func() tea.Msg {
		cfg, err := m.client.ResetConfig(m.ctx)
		return configMsg{cfg: cfg, saved: true, err: err}
	}
}

func (m *App) scanOptions() api.ScanOptions {
	return api.ScanOptions{Roots: m.cfg.ScanRoots, ExcludePatterns: m.cfg.ExcludePatterns}
}

func (m *App) globalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit, true
	case "f1", "f2", "f3", "f4", "f5":
		return m.switchPage(Page(msg.String()[1] - '1')), true
	}
	if m.page != PageSearch && m.page != PageSettings {
		switch msg.String() {
		case "q":
			return tea.Quit, true
		case "1", "2", "3", "4", "5":
			return m.switchPage(Page(msg.String()[0] - '1')), true
		}
	}
	return nil, false
}

func (m *App) switchPage(p Page) tea.Cmd {
	m.page = p
	if p == PageDiagnostics && m.diag == nil {
		return m.loadDiagnostics()
	}
	return nil
}

func (m *App) searchInput() query.Input {
	return query.Input{
		Query: m.inputs[inputQuery].Value(),
		Ext:   m.inputs[inputExt].Value(),
		MinMB: m.inputs[inputMinMB].Value(),
		MaxMB: m.inputs[inputMaxMB].Value(),
	}
}

func (m *App) focusInput(i int) {
	m.inputs[m.focus].Blur()
	m.focus = (i + inputCount) % inputCount
	m.inputs[m.focus].Focus()
}

func (m *App) searchKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "tab":
		m.focusInput(m.focus + 1)
		return nil
	case "shift+tab":
		m.focusInput(m.focus - 1)
		return nil
	case "up":
		m.query.Move(-1)
		return nil
	case "down":
		m.query.Move(1)
		return nil
	case "enter":
		if r, ok := m.query.Selected(); ok {
			return m.openLocation(r.Path)
		}
		return nil
	case "esc":
		m.inputs[inputQuery].SetValue("")
		m.query.Clear()
		return nil
	case "ctrl+x":
		for _, i := range []int{inputExt, inputMinMB, inputMaxMB} {
			m.inputs[i].SetValue("")
		}
		m.query.ResetFilters()
		return nil
	case "ctrl+s":
		v := m.query.View()
		m.query.SetSort((v.Sort+1)%3, v.Dir)
		return nil
	case "ctrl+o":
		v := m.query.View()
		m.query.SetSort(v.Sort, 1-v.Dir)
		return nil
	case "ctrl+t":
		m.relative = !m.relative
		return nil
	}

	before := m.searchInput()
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	if in := m.searchInput(); in != before {
		m.query.SetInput(in)
	}
	return cmd
}

func (m *App) indexKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "s":
		return m.startPipeline(true)
	case "b":
		return m.startPipeline(false)
	case "c":
		m.contentParse = !m.contentParse
	case "a":
		return func() tea.Msg {
			return autoScanMsg{err: m.client.StartAutoScanNow(m.ctx)}
		}
	}
	return nil
}

func (m *App) startPipeline(fused bool) tea.Cmd {
	if m.pipe.Progress().Running {
		m.status = pipeline.ErrBusy.Error()
		return nil
	}
	opts := pipeline.Options{
		Fused: fused,
		Scan:  m.scanOptions(),
		Index: api.IndexOptions{IndexDir: m.cfg.IndexDir, EnableContentParse: m.contentParse},
	}
	return func() tea.Msg {
		return pipelineDoneMsg{err: m.pipe.Start(m.ctx, opts)}
	}
}

// dupRow is one file line of the duplicates table.
type dupRow struct {
	group api.DupGroup
	path  string
}

func (m *App) dupRows() []dupRow {
	var rows []dupRow
	for _, g := range m.dupes.Visible(m.dupFilter) {
		for _, f := range g.Files {
			rows = append(rows, dupRow{group: g, path: f})
		}
	}
	return rows
}

func (m *App) dupesKey(msg tea.KeyMsg) tea.Cmd {
	rows := m.dupRows()
	switch msg.String() {
	case "d":
		return func() tea.Msg {
			_, err := m.dupes.Detect(m.ctx)
			return dupesDoneMsg{err: err}
		}
	case "f":
		switch m.dupFilter {
		case dupes.All:
			m.dupFilter = dupes.ByHash
		case dupes.ByHash:
			m.dupFilter = dupes.ByName
		default:
			m.dupFilter = dupes.All
		}
		m.dupSel = 0
	case "up", "k":
		if m.dupSel > 0 {
			m.dupSel--
		}
	case "down", "j":
		if m.dupSel < len(rows)-1 {
			m.dupSel++
		}
	case "enter":
		if m.dupSel < len(rows) {
			return m.openLocation(rows[m.dupSel].path)
		}
	case "x":
		if m.dupSel < len(rows) {
			path := rows[m.dupSel].path
			if m.dupSel > 0 && m.dupSel == len(rows)-1 {
				m.dupSel--
			}
			return func() tea.Msg {
				return deletedMsg{path: path, err: m.dupes.Delete(m.ctx, path)}
			}
		}
	}
	return nil
}

func (m *App) diagKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "r" {
		return m.loadDiagnostics()
	}
	return nil
}

func (m *App) loadDiagnostics() tea.Cmd {
	return func() tea.Msg {
		r, err := m.client.Diagnostics(m.ctx)
		return diagMsg{report: r, err: err}
	}
}

func (m *App) openLocation(path string) tea.Cmd {
	return func() tea.Msg {
		return openedMsg{path: path, err: m.client.OpenLocation(m.ctx, path)}
	}
}

func (m *App) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("sefind") + " ")
	for i, name := range pageNames {
		label := fmt.Sprintf("F%d %s", i+1, name)
		if Page(i) == m.page {
			b.WriteString(activeTabStyle.Render(label))
		} else {
			b.WriteString(tabStyle.Render(label))
		}
	}
	b.WriteString("\n\n")

	switch m.page {
	case PageSearch:
		b.WriteString(m.searchView())
	case PageIndex:
		b.WriteString(m.indexView())
	case PageDupes:
		b.WriteString(m.dupesView())
	case PageDiagnostics:
		b.WriteString(m.diagView())
	case PageSettings:
		b.WriteString(m.settings.View())
	}

	if m.status != "" {
		b.WriteString("\n" + dimStyle.Render(m.status))
	}
	return b.String()
}

func (m *App) pathWidth() int {
	if m.cfg.PathMaxLen > 0 {
		return m.cfg.PathMaxLen
	}
	return 80
}

func (m *App) searchView() string {
	var b strings.Builder
	v := m.query.View()

	b.WriteString(inputBoxStyle.Render(m.inputs[inputQuery].View()) + "\n")
	b.WriteString(fmt.Sprintf("  ext %s  size %s - %s\n",
		m.inputs[inputExt].View(), m.inputs[inputMinMB].View(), m.inputs[inputMaxMB].View()))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  sort: %s %s", v.Sort, v.Dir)) + "\n\n")

	if v.Err != nil {
		b.WriteString(errorStyle.Render("Error: "+v.Status) + "\n")
	} else if strings.TrimSpace(v.Input.Query) == "" {
		b.WriteString(dimStyle.Render("Type to search") + "\n")
	} else if len(v.Results) == 0 && !v.Busy {
		b.WriteString(dimStyle.Render("No results found") + "\n")
	}

	now := m.clock.Now()
	marks := queryPattern(v.Input.Query)
	limit := len(v.Results)
	if m.height > 14 {
		limit = min(limit, m.height-12)
	}
	for _, r := range v.Results[:limit] {
		cursor := "  "
		if r.Path == v.Selected {
			cursor = selectedStyle.Render("> ")
		}
		when := formatTime(r.ModifiedTS)
		if m.relative {
			when = formatRelative(r.ModifiedTS, now)
		}
		b.WriteString(cursor + scoreStyle.Render(fmt.Sprintf("[%.2f]", r.Score)) + " " +
			highlight(shortenPath(r.Path, m.pathWidth()), marks, pathStyle) + " " +
			dimStyle.Render(fmt.Sprintf("%s  %s", formatSize(r.Size), when)) + "\n")
		if r.Path == v.Selected && r.Summary != "" {
			for _, line := range wrapText(r.Summary, 76, 2) {
				b.WriteString("    " + highlight(line, marks, snippetStyle) + "\n")
			}
		}
	}
	if v.Busy {
		b.WriteString(dimStyle.Render("searching...") + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("tab field  ↑/↓ select  enter reveal  ctrl+s sort  ctrl+o order  ctrl+t relative time  ctrl+x reset filters  esc clear"))
	return b.String()
}

func (m *App) indexView() string {
	var b strings.Builder
	p := m.pipe.Progress()

	b.WriteString(fmt.Sprintf("Roots: %s\n", strings.Join(m.cfg.ScanRoots, ", ")))
	b.WriteString(fmt.Sprintf("Index: %s\n", m.cfg.IndexDir))
	parse := "off"
	if m.contentParse {
		parse = "on"
	}
	b.WriteString(fmt.Sprintf("Content parsing: %s\n\n", activeStyle.Render(parse)))

	state := p.State.String()
	if p.Running {
		state = activeStyle.Render(state)
	} else if p.State == pipeline.Failed {
		state = errorStyle.Render(state)
	}
	b.WriteString("State: " + state + "\n")
	if p.Total > 0 {
		b.WriteString(fmt.Sprintf("Progress: %d/%d\n", p.Current, p.Total))
	} else if p.Running {
		b.WriteString(fmt.Sprintf("Progress: %d\n", p.Current))
	}
	if p.Running && p.ScanDir != "" {
		b.WriteString("Scanning: " + pathStyle.Render(shortenPath(p.ScanDir, m.pathWidth())) + "\n")
	}
	if p.LastScanSize > 0 {
		b.WriteString(fmt.Sprintf("Last scan: %d files\n", p.LastScanSize))
	}
	if p.Status != "" {
		b.WriteString(dimStyle.Render(p.Status) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("s scan and index  b scan then build  c content parsing  a auto scan now  q quit"))
	return b.String()
}

func (m *App) dupesView() string {
	var b strings.Builder
	v := m.dupes.View()

	b.WriteString(fmt.Sprintf("Filter: %s\n\n", activeStyle.Render(string(m.dupFilter))))
	if v.Phase != dupes.PhaseIdle {
		b.WriteString(activeStyle.Render(v.Status) + "\n")
	}

	rows := m.dupRows()
	if len(rows) == 0 && v.Phase == dupes.PhaseIdle {
		b.WriteString(dimStyle.Render("No duplicate groups") + "\n")
	}
	var last string
	for i, r := range rows {
		key := string(r.group.Kind) + ":" + r.group.Key
		if key != last {
			label := r.group.Key
			if r.group.Kind == api.DupHash {
				label = truncate(label, 16)
			}
			b.WriteString(kindStyle.Render(fmt.Sprintf("%s %s (%d)", r.group.Kind, label, len(r.group.Files))) + "\n")
			last = key
		}
		cursor := "  "
		if i == m.dupSel {
			cursor = selectedStyle.Render("> ")
		}
		b.WriteString(cursor + pathStyle.Render(shortenPath(r.path, m.pathWidth())) + "\n")
	}
	if v.Err != nil {
		b.WriteString(errorStyle.Render(v.Status) + "\n")
	} else if v.Phase == dupes.PhaseIdle && v.Status != "" {
		b.WriteString(dimStyle.Render(v.Status) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("d detect  f filter  ↑/↓ select  enter reveal  x delete  q quit"))
	return b.String()
}

func (m *App) diagView() string {
	var b strings.Builder
	r := m.diag
	if r == nil {
		b.WriteString(dimStyle.Render("Loading diagnostics...") + "\n")
		return b.String()
	}

	yes := func(v bool) string {
		if v {
			return "yes"
		}
		return "no"
	}
	b.WriteString(fmt.Sprintf("Index dir:      %s\n", r.IndexDir))
	b.WriteString(fmt.Sprintf("Index open:     %s\n", yes(r.IndexOpenOK)))
	if r.IndexDocCount != nil {
		b.WriteString(fmt.Sprintf("Indexed files:  %d\n", *r.IndexDocCount))
	}
	if len(r.SchemaFields) > 0 {
		b.WriteString(fmt.Sprintf("Schema:         %s\n", strings.Join(r.SchemaFields, ", ")))
	}
	b.WriteString(fmt.Sprintf("Scan roots:     %d\n", r.ConfigScanRootsCount))
	b.WriteString(fmt.Sprintf("Auto scan:      %s\n", yes(r.ConfigAutoScanEnabled)))
	b.WriteString(fmt.Sprintf("Last pipeline:  %s started=%s completed=%s\n",
		orDash(r.PipelineLastDay), yes(r.PipelineStarted), yes(r.PipelineCompleted)))
	if r.SysCPUAvg != nil {
		b.WriteString(fmt.Sprintf("CPU:            %.1f%%\n", *r.SysCPUAvg))
	}
	if r.SysTotalMemKiB != nil && r.SysFreeMemKiB != nil {
		total, free := int64(*r.SysTotalMemKiB*1024), int64(*r.SysFreeMemKiB*1024)
		b.WriteString(fmt.Sprintf("Memory:         %s free of %s\n", formatSize(&free), formatSize(&total)))
	}
	for _, w := range r.Warnings {
		b.WriteString(warnStyle.Render("! "+w) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("r refresh  q quit"))
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Run starts the program on the alternate screen and blocks until it exits.
func Run(deps Deps) error {
	app := NewApp(deps)
	defer app.Close()

	program := tea.NewProgram(app, tea.WithAltScreen())
	_, err := program.Run()
	return err
}
