package annotator

import (
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/satsview/composite"
	"github.com/hazyhaar/satsview/idgen"
	"github.com/hazyhaar/satsview/report"
	"github.com/hazyhaar/satsview/satconv"
)

// skipTags are elements whose subtrees never hold visible page text.
var skipTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Math:     true,
	atom.Canvas:   true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Textarea: true,
}

type editKind int

const (
	editText editKind = iota
	editComposite
)

// edit is one planned write, computed during enumeration and applied during
// annotation if its target is unchanged.
type edit struct {
	kind editKind
	root *html.Node // cycle root the target was found under
	node *html.Node // text node or composite container
	orig string     // text node data, or container text, at enumeration
	data string     // replacement text node data
	res  satconv.Result
	anns []report.Annotation
}

// plan is the output of the enumerating phase.
type plan struct {
	edits    []edit
	planned  map[*html.Node]bool // composite containers claimed this cycle
	textSeen map[*html.Node]bool
	rate     satconv.Rate
	cycle    *report.Cycle
}

// runCycle drains the queue and runs one full cycle. It must only be called
// from the loop goroutine.
func (s *Scheduler) runCycle(trigger report.Trigger) report.Cycle {
	if s.queue.len() == 0 {
		return report.Cycle{Trigger: trigger, Skipped: report.SkipEmpty}
	}

	start := time.Now()
	c := report.Cycle{
		ID:        idgen.New(),
		Seq:       s.seq.Add(1),
		Trigger:   trigger,
		StartedAt: start.UnixMilli(),
	}

	rate, ok := s.rates.CurrentRate()
	if !ok || !rate.Usable() {
		// Roots stay queued for the next trigger; nothing is written.
		c.Skipped = report.SkipNoRate
		c.Roots = s.queue.len()
		s.logger.Debug("annotator: no usable rate, cycle skipped",
			"seq", c.Seq, "trigger", trigger, "queued", c.Roots)
		s.emit(c)
		return c
	}
	c.Rate = &rate

	roots := s.queue.drain()
	c.Roots = len(roots)

	s.state.Store(int32(Enumerating))
	p := &plan{
		planned:  make(map[*html.Node]bool),
		textSeen: make(map[*html.Node]bool),
		rate:     rate,
		cycle:    &c,
	}
	for _, root := range roots {
		s.enumerate(p, root)
	}
	edits := p.withoutClaimedText()

	s.state.Store(int32(Annotating))
	for i := range edits {
		s.apply(&c, &edits[i])
	}
	s.state.Store(int32(Idle))

	c.DurationMs = time.Since(start).Milliseconds()
	if n := c.Mutations(); n > 0 || c.Conflicts > 0 || c.Failures > 0 {
		s.logger.Info("annotator: cycle done",
			"seq", c.Seq, "trigger", trigger, "roots", c.Roots,
			"annotations", n, "conflicts", c.Conflicts, "failures", c.Failures,
			"deferred", c.Deferred, "duration_ms", c.DurationMs)
	}
	s.emit(c)
	return c
}

// enumerate walks one root with an explicit stack, in document order, and
// records the edits it finds. It never writes to the document. A panic
// abandons this root only.
func (s *Scheduler) enumerate(p *plan, root *html.Node) {
	mark := len(p.edits)
	defer func() {
		if r := recover(); r != nil {
			p.edits = p.edits[:mark]
			p.cycle.Failures++
			s.logger.Error("annotator: subtree abandoned", "path", nodePath(root), "panic", r)
		}
	}()

	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch n.Type {
		case html.TextNode:
			s.planText(p, root, n)
			continue

		case html.ElementNode:
			if s.skip(n) {
				continue
			}
			if !s.visible(n) {
				s.deferSubtree(p.cycle, n)
				continue
			}
			if s.comp.IsContainer(n) {
				s.planComposite(p, root, n)
				continue
			}
			if s.comp.IsFragment(n) {
				if container := s.comp.DetectContainer(n); container != nil {
					s.planComposite(p, root, container)
					continue
				}
			}

		case html.DocumentNode:

		default:
			continue
		}

		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
}

// skip reports whether the subtree at el is never scanned.
func (s *Scheduler) skip(el *html.Node) bool {
	if skipTags[el.DataAtom] {
		return true
	}
	if el.DataAtom == 0 && (strings.EqualFold(el.Data, "svg") || strings.EqualFold(el.Data, "math")) {
		return true
	}
	return composite.Handled(el) || s.marked.has(el)
}

func (s *Scheduler) visible(el *html.Node) bool {
	if s.revealed.has(el) {
		return true
	}
	return s.viewport.Visible(el)
}

// deferSubtree hands an invisible element to the viewport once.
func (s *Scheduler) deferSubtree(c *report.Cycle, el *html.Node) {
	c.Deferred++
	if s.deferred.has(el) {
		return
	}
	s.deferred.mark(el, "")
	s.viewport.Observe(el)
}

// planText recognizes and converts the prices of one text node. Only the
// matched spans change; the rest of the data is kept byte for byte.
func (s *Scheduler) planText(p *plan, root, n *html.Node) {
	if p.textSeen[n] {
		return
	}
	p.textSeen[n] = true
	if stamp, ok := s.marked.lookup(n); ok && stamp == n.Data {
		return
	}
	p.cycle.TextNodes++

	data := n.Data
	toks := s.rec.Recognize(data)
	if len(toks) == 0 {
		return
	}
	p.cycle.Tokens += len(toks)

	var b strings.Builder
	var anns []report.Annotation
	last := 0
	for _, tok := range toks {
		if satconv.HasAnnotation(data[tok.End:]) {
			continue
		}
		res, err := satconv.Convert(tok.RawText, tok.Amount(), p.rate, s.opts)
		if err != nil {
			continue
		}
		b.WriteString(data[last:tok.Start])
		b.WriteString(res.Text())
		last = tok.End
		anns = append(anns, report.Annotation{
			Kind:      report.KindText,
			Original:  res.OriginalText,
			Converted: res.ConvertedText,
			Unit:      res.Unit.String(),
			Amount:    tok.Amount(),
		})
	}
	if len(anns) == 0 {
		return
	}
	b.WriteString(data[last:])

	path := nodePath(n)
	for i := range anns {
		anns[i].Path = path
	}
	p.edits = append(p.edits, edit{
		kind: editText,
		root: root,
		node: n,
		orig: data,
		data: b.String(),
		anns: anns,
	})
}

// planComposite resolves one container. Its subtree is never walked by the
// plain text path.
func (s *Scheduler) planComposite(p *plan, root, container *html.Node) {
	if p.planned[container] || s.marked.has(container) || composite.Handled(container) {
		return
	}
	p.planned[container] = true
	p.cycle.Composites++

	price, err := s.comp.Resolve(container)
	if err != nil {
		p.cycle.Failures++
		s.logger.Debug("annotator: composite left unannotated",
			"path", nodePath(container), "error", err)
		return
	}
	if price.Source != composite.SourceStructure {
		p.cycle.Fallbacks++
	}
	res, err := satconv.Convert(price.Text, price.Amount, p.rate, s.opts)
	if err != nil {
		p.cycle.Failures++
		return
	}
	p.edits = append(p.edits, edit{
		kind: editComposite,
		root: root,
		node: container,
		orig: composite.ContainerText(container),
		res:  res,
		anns: []report.Annotation{{
			Kind:      report.KindComposite,
			Path:      nodePath(container),
			Original:  res.OriginalText,
			Converted: res.ConvertedText,
			Unit:      res.Unit.String(),
			Amount:    price.Amount,
			Source:    price.Source.String(),
		}},
	})
}

// withoutClaimedText drops text edits inside a composite container found
// later in the walk; the container's annotation covers them.
func (p *plan) withoutClaimedText() []edit {
	if len(p.planned) == 0 {
		return p.edits
	}
	out := p.edits[:0]
	for _, e := range p.edits {
		if e.kind == editText && p.claimed(e.node) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (p *plan) claimed(n *html.Node) bool {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if p.planned[cur] {
			return true
		}
	}
	return false
}

// apply re-validates the target of e and performs the write. A target that
// was detached or changed since enumeration is a conflict: the write is
// dropped and the node stays unmarked so a later cycle sees it afresh.
func (s *Scheduler) apply(c *report.Cycle, e *edit) {
	defer func() {
		if r := recover(); r != nil {
			c.Failures++
			s.logger.Error("annotator: write abandoned", "path", nodePath(e.node), "panic", r)
		}
	}()

	switch e.kind {
	case editText:
		if e.node.Parent == nil || !contains(e.root, e.node) || e.node.Data != e.orig {
			c.Conflicts++
			return
		}
		e.node.Data = e.data
		s.marked.mark(e.node, e.data)

	case editComposite:
		if e.node.Parent == nil || composite.Handled(e.node) || s.marked.has(e.node) ||
			composite.ContainerText(e.node) != e.orig {
			c.Conflicts++
			return
		}
		span := composite.Annotate(e.node, e.res)
		if span == nil {
			c.Conflicts++
			return
		}
		s.marked.mark(e.node, "")
		s.marked.mark(span, "")
	}
	c.Annotations = append(c.Annotations, e.anns...)
}
