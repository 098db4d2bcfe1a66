package cmd

import (
	"debug/elf"
	"fmt"
	"io"
	"os"
	pathpkg "path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"opdis/internal/analysis"
	"opdis/internal/logging"
	"opdis/internal/opdis"
	"opdis/internal/opdis/styles"
)

type viewMode int

const (
	viewListing viewMode = iota
	viewSymbols
)

type symbolItem struct {
	entry      analysis.SymbolEntry
	filterTerm string
}

func (i symbolItem) Title() string       { return fmt.Sprintf("%x  %s", i.entry.Addr, i.entry.Demangled) }
func (i symbolItem) Description() string { return "" }
func (i symbolItem) FilterValue() string { return i.filterTerm }

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(symbolItem)
	if !ok {
		return
	}
	indicator, addrStyle := " ", styles.Addr
	if index == m.Index() {
		indicator, addrStyle = ">", styles.Selected
	}
	fmt.Fprintf(w, " %s  %s  %s",
		indicator,
		addrStyle.Render(fmt.Sprintf("%x", i.entry.Addr)),
		styles.Signature(i.entry.Demangled))
}

type model struct {
	viewport    viewport.Model
	symbolsList list.Model
	spinner     spinner.Model
	mode        viewMode
	path        string
	settings    *settings
	digest      string
	listing     string
	loading     bool
	err         error
	width       int
	height      int
	in          *input
	d           *opdis.Disassembler
	logger      *logging.LoggerCloser
	arch        string
}

type digestMsg struct{ digest string }

type loadedMsg struct {
	in      *input
	d       *opdis.Disassembler
	logger  *logging.LoggerCloser
	arch    string
	listing string
	err     error
}

type listingMsg struct {
	listing string
	err     error
}

func digestCmd(path string) tea.Cmd {
	return func() tea.Msg {
		d, err := digest(path)
		if err != nil {
			return digestMsg{digest: err.Error()}
		}
		return digestMsg{digest: d}
	}
}

// loadCmd opens the image and disassembles from its entry point.
func loadCmd(path string, s *settings) tea.Cmd {
	return func() tea.Msg {
		in, err := openInput(path, false)
		if err != nil {
			return loadedMsg{err: err}
		}
		d, logger, err := s.newDisassembler(in)
		if err != nil {
			in.Close()
			return loadedMsg{err: err}
		}
		arch := in.archName(d.Arch())
		msg := loadedMsg{in: in, d: d, logger: logger, arch: arch}
		msg.listing, msg.err = renderRun(d, in, in.image, map[string]any{opdis.ArgStrategy: "entry"}, arch, s.color)
		return msg
	}
}

// symbolListingCmd disassembles one function, bounded to its extent.
func symbolListingCmd(m model, e analysis.SymbolEntry) tea.Cmd {
	d, in, arch, color := m.d, m.in, m.arch, m.settings.color
	return func() tea.Msg {
		args := map[string]any{opdis.ArgStrategy: "symbol"}
		if start, end := e.Symbol.Bounds(); end > start {
			args[opdis.ArgLen] = end - start
		}
		listing, err := renderRun(d, in, e.Symbol, args, arch, color)
		if err == nil {
			listing = fmt.Sprintf("; %s\n%s", e.Demangled, listing)
		}
		return listingMsg{listing: listing, err: err}
	}
}

func renderRun(d *opdis.Disassembler, in *input, tgt any, args map[string]any, arch string, color bool) (string, error) {
	out, err := d.Disassemble(tgt, args)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	writeListing(&b, in, out, arch, color, false)
	return b.String(), nil
}

func newModel(path string, s *settings) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	symbolsList := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	symbolsList.SetShowStatusBar(false)
	symbolsList.SetFilteringEnabled(true)
	symbolsList.Title = "Symbols"
	symbolsList.Styles.Title = styles.Title
	symbolsList.SetShowHelp(true)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Selected

	m := model{
		viewport:    vp,
		symbolsList: symbolsList,
		spinner:     sp,
		mode:        viewListing,
		path:        path,
		settings:    s,
		loading:     true,
		width:       80,
		height:      24,
	}
	m.updateContent()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		digestCmd(m.path),
		loadCmd(m.path, m.settings),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case digestMsg:
		m.digest = msg.digest
		m.updateContent()
		return m, nil

	case loadedMsg:
		m.loading = false
		m.err = msg.err
		if msg.in != nil {
			m.in, m.d, m.logger, m.arch = msg.in, msg.d, msg.logger, msg.arch
			m.listing = msg.listing
			m.updateSymbolsList()
		}
		m.updateContent()
		return m, nil

	case listingMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.listing = msg.listing
		}
		m.mode = viewListing
		m.updateContent()
		m.viewport.GotoTop()
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		m.updateContent()
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
			m.symbolsList.SetWidth(msg.Width)
			m.symbolsList.SetHeight(msg.Height - 2)
			m.updateContent()
		}

	case tea.KeyMsg:
		if m.mode == viewSymbols && m.symbolsList.FilterState() == list.Filtering {
			// the list owns every key but quit while filtering
			if k := msg.String(); k == "ctrl+c" {
				return m.quit()
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m.quit()
		case "l", "r":
			m.mode = viewListing
			return m, nil
		case "s":
			if len(m.symbolsList.Items()) > 0 {
				m.mode = viewSymbols
			}
			return m, nil
		case "tab", "shift+tab":
			if m.mode == viewListing && len(m.symbolsList.Items()) > 0 {
				m.mode = viewSymbols
			} else {
				m.mode = viewListing
			}
			return m, nil
		case "enter":
			if m.mode != viewSymbols || m.d == nil {
				return m, nil
			}
			if item, ok := m.symbolsList.SelectedItem().(symbolItem); ok {
				m.loading = true
				m.updateContent()
				return m, tea.Batch(symbolListingCmd(m, item.entry), m.spinner.Tick)
			}
			return m, nil
		}
	}

	switch m.mode {
	case viewSymbols:
		m.symbolsList, cmd = m.symbolsList.Update(msg)
	default:
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) quit() (tea.Model, tea.Cmd) {
	if m.in != nil {
		m.in.Close()
	}
	if m.logger != nil {
		m.logger.Close()
	}
	return m, tea.Quit
}

func (m model) View() string {
	content := m.viewport.View()
	menu := " S: symbols • Tab: cycle • Q: quit "
	if m.mode == viewSymbols {
		content = m.symbolsList.View()
		menu = " Enter: disassemble • L: listing • /: filter • Q: quit "
	}
	return content + "\n" + styles.Menu.Width(m.width).Render(menu)
}

func fileKind(in *input) string {
	if in == nil || in.image == nil || in.image.File == nil {
		return ""
	}
	if in.image.File.Type == elf.ET_DYN {
		return "library"
	}
	return "executable"
}

// headerLines is the file summary shown above a listing.
func headerLines(path, digest string, in *input, arch string) []string {
	rel := path
	if cwd, err := os.Getwd(); err == nil {
		if r, err := pathpkg.Rel(cwd, path); err == nil {
			rel = r
		}
	}
	lines := []string{fmt.Sprintf("; %s", rel)}
	if kind := fileKind(in); kind != "" {
		lines[0] = fmt.Sprintf("; %s (%s)", rel, kind)
	}
	if digest != "" {
		lines = append(lines, "; "+digest)
	}
	if in != nil && in.image != nil {
		lines = append(lines, fmt.Sprintf("; %s %s entry %#x, %d symbols",
			in.image.Machine, arch, in.image.Entry, in.symbols.Len()))
	}
	return lines
}

func (m *model) updateContent() {
	md := fmt.Sprintf("# opdis\n\n```\n%s\n```", strings.Join(headerLines(m.path, m.digest, m.in, m.arch), "\n"))
	if m.loading {
		md += fmt.Sprintf("\n\n%s Disassembling...", m.spinner.View())
	}
	width := m.width
	if width == 0 {
		width = 80
	}
	content := strings.TrimSuffix(styles.Render(md, width-2), "\n")
	if m.err != nil {
		content += "\n\n" + styles.Errors.Render(m.err.Error())
	}
	if m.listing != "" {
		content += "\n\n" + lipgloss.NewStyle().MarginLeft(1).Render(m.listing)
	}
	m.viewport.SetContent(content)
}

func (m *model) updateSymbolsList() {
	funcs := m.in.symbols.Functions()
	items := make([]list.Item, 0, len(funcs))
	for _, e := range funcs {
		items = append(items, symbolItem{
			entry:      e,
			filterTerm: fmt.Sprintf("%x %s", e.Addr, e.Demangled),
		})
	}
	m.symbolsList.SetItems(items)
	m.symbolsList.Title = fmt.Sprintf("Functions (%d total)", len(items))
}
