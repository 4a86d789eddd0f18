// ABOUTME: Command invocation state machine: lookup, input collection, payload build, hand-off.
// ABOUTME: Connectors of the owning plugin start only after a payload is built.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-plugins/internal/assembler"
	"github.com/2389/coven-plugins/internal/connectors"
	"github.com/2389/coven-plugins/internal/plugin"
)

// State of an invocation.
type State string

const (
	StateParsed          State = "parsed"
	StateInputsCollected State = "inputs_collected"
	StateBuilt           State = "built"
	StateDispatched      State = "dispatched"
	StateRejected        State = "rejected"
	StateAbandoned       State = "abandoned"
)

// Catalog is the registry view the dispatcher reads. *registry.Registry satisfies it.
type Catalog interface {
	GetCommandHandler(fq string) *plugin.Command
	Plugin(id string) *plugin.Plugin
	Plugins() []*plugin.Plugin
	EnabledPlugins() []*plugin.Plugin
}

// Connectors is the connector engine view the dispatcher uses. *connectors.Engine satisfies it.
type Connectors interface {
	Current() *connectors.Registry
	StartPlugin(ctx context.Context, pluginID string) error
}

// InputRequest lists the slots still needing values.
type InputRequest struct {
	InvocationID string
	Command      *plugin.Command
	Slots        []plugin.InputSlot // unfilled slots in declaration order
	Prefilled    map[string]string
}

// InputProvider supplies slot values, typically by asking the user. It should
// block until answered and return ctx.Err() (or ErrCancelled) when abandoned.
type InputProvider interface {
	ProvideInputs(ctx context.Context, req InputRequest) (map[string]string, error)
}

// InputProviderFunc adapts a function to InputProvider.
type InputProviderFunc func(ctx context.Context, req InputRequest) (map[string]string, error)

// ProvideInputs implements InputProvider.
func (f InputProviderFunc) ProvideInputs(ctx context.Context, req InputRequest) (map[string]string, error) {
	return f(ctx, req)
}

// Payload is what the model receives.
type Payload struct {
	InvocationID  string
	Command       string // fully-qualified
	SystemContext string
	UserTurn      string
	Context       *assembler.AssembledContext
}

// Response is the model's answer, returned to the caller untouched.
type Response struct {
	Text         string
	Model        string
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// Invoker hands a payload to the model.
type Invoker interface {
	Invoke(ctx context.Context, payload *Payload) (*Response, error)
}

// Invocation tracks one command through the state machine.
type Invocation struct {
	ID      string
	Parsed  Parsed
	Command *plugin.Command
	State   State
	Inputs  map[string]string
	Payload *Payload
	Err     error

	argsConsumed bool
}

// Options configures a Dispatcher.
type Options struct {
	Catalog    Catalog
	Connectors Connectors // optional; nothing is started when nil
	Assembler  *assembler.Assembler
	Invoker    Invoker
	Budget     int // token budget for the system context
	Logger     *slog.Logger
}

// Dispatcher runs command invocations.
type Dispatcher struct {
	catalog    Catalog
	connectors Connectors
	assembler  *assembler.Assembler
	invoker    Invoker
	budget     int
	logger     *slog.Logger

	starts sync.WaitGroup
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	asm := opts.Assembler
	if asm == nil {
		asm = assembler.New(logger)
	}
	return &Dispatcher{
		catalog:    opts.Catalog,
		connectors: opts.Connectors,
		assembler:  asm,
		invoker:    opts.Invoker,
		budget:     opts.Budget,
		logger:     logger.With("component", "dispatch"),
	}
}

// Prepare parses input and looks the command up among enabled plugins.
func (d *Dispatcher) Prepare(input string) (*Invocation, error) {
	inv := &Invocation{ID: uuid.New().String()}

	parsed, err := Parse(input)
	if err != nil {
		return d.reject(inv, err)
	}
	inv.Parsed = parsed
	inv.State = StateParsed

	cmd := d.catalog.GetCommandHandler(parsed.QualifiedName())
	if cmd == nil {
		return d.reject(inv, fmt.Errorf("%w: %s", ErrUnknownCommand, Prefix+parsed.QualifiedName()))
	}
	inv.Command = cmd

	d.logger.Debug("command parsed",
		"invocation_id", inv.ID,
		"command", parsed.QualifiedName(),
		"has_args", parsed.Args != "",
	)
	return inv, nil
}

// CollectInputs fills the command's input slots. Inline arguments go to the
// first slot; the provider is asked for the rest only if any remain.
func (d *Dispatcher) CollectInputs(ctx context.Context, inv *Invocation, provider InputProvider) error {
	if inv.State != StateParsed {
		return fmt.Errorf("collect inputs: invocation is %s, want %s", inv.State, StateParsed)
	}

	slots := inv.Command.Inputs
	inputs := make(map[string]string, len(slots))
	if inv.Parsed.Args != "" && len(slots) > 0 {
		inputs[slots[0].Name] = inv.Parsed.Args
		inv.argsConsumed = true
	}

	var pending []plugin.InputSlot
	for _, slot := range slots {
		if _, ok := inputs[slot.Name]; !ok {
			pending = append(pending, slot)
		}
	}

	if len(pending) > 0 && provider != nil {
		if err := ctx.Err(); err != nil {
			return d.abandon(inv, err)
		}
		values, err := provider.ProvideInputs(ctx, InputRequest{
			InvocationID: inv.ID,
			Command:      inv.Command,
			Slots:        pending,
			Prefilled:    copyMap(inputs),
		})
		if err != nil {
			if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return d.abandon(inv, err)
			}
			_, err = d.reject(inv, fmt.Errorf("collecting inputs: %w", err))
			return err
		}
		for _, slot := range pending {
			if v, ok := values[slot.Name]; ok {
				inputs[slot.Name] = v
			}
		}
	}

	var missing []string
	for _, slot := range slots {
		if slot.Required && strings.TrimSpace(inputs[slot.Name]) == "" {
			missing = append(missing, slot.Name)
		}
	}
	if len(missing) > 0 {
		_, err := d.reject(inv, fmt.Errorf("%w: %s", ErrMissingInput, strings.Join(missing, ", ")))
		return err
	}

	inv.Inputs = inputs
	inv.State = StateInputsCollected
	return nil
}

// Build renders the user turn and system context, then starts the owning
// plugin's connectors in the background.
func (d *Dispatcher) Build(ctx context.Context, inv *Invocation) (*Payload, error) {
	if inv.State != StateInputsCollected {
		return nil, fmt.Errorf("build: invocation is %s, want %s", inv.State, StateInputsCollected)
	}

	// The plugin may have been disabled while inputs were collected.
	cmd := d.catalog.GetCommandHandler(inv.Parsed.QualifiedName())
	if cmd == nil {
		_, err := d.reject(inv, fmt.Errorf("%w: %s", ErrUnknownCommand, Prefix+inv.Parsed.QualifiedName()))
		return nil, err
	}

	owner := d.catalog.Plugin(cmd.PluginID)
	var conns assembler.Connections
	if d.connectors != nil {
		conns = d.connectors.Current()
	}
	built := d.assembler.Build(d.catalog.Plugins(), conns, assembler.Request{
		Hint:             hintFor(inv),
		Budget:           d.budget,
		ReferencedSkills: referencedSkills(owner, cmd),
	})

	payload := &Payload{
		InvocationID:  inv.ID,
		Command:       cmd.QualifiedName(),
		SystemContext: built.Text,
		UserTurn:      userTurn(inv, cmd),
		Context:       built,
	}
	inv.Payload = payload
	inv.State = StateBuilt

	d.logger.Info("command built",
		"invocation_id", inv.ID,
		"command", cmd.QualifiedName(),
		"context_tokens", built.EstimatedTokens,
		"truncated", built.Truncated,
		"degradations", len(built.Degradations),
	)

	if d.connectors != nil {
		startCtx := context.WithoutCancel(ctx)
		d.starts.Go(func() {
			if err := d.connectors.StartPlugin(startCtx, cmd.PluginID); err != nil {
				d.logger.Warn("connector start failed", "plugin_id", cmd.PluginID, "error", err)
			}
		})
	}
	return payload, nil
}

// Dispatch hands the built payload to the invoker.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *Invocation) (*Response, error) {
	if inv.State != StateBuilt {
		return nil, fmt.Errorf("dispatch: invocation is %s, want %s", inv.State, StateBuilt)
	}
	if d.invoker == nil {
		return nil, errors.New("dispatch: no invoker configured")
	}

	resp, err := d.invoker.Invoke(ctx, inv.Payload)
	if err != nil {
		inv.Err = err
		return nil, fmt.Errorf("invoking model for %s: %w", inv.Payload.Command, err)
	}
	inv.State = StateDispatched
	d.logger.Info("command dispatched",
		"invocation_id", inv.ID,
		"command", inv.Payload.Command,
		"output_tokens", resp.OutputTokens,
	)
	return resp, nil
}

// Execute runs every step for input.
func (d *Dispatcher) Execute(ctx context.Context, input string, provider InputProvider) (*Invocation, *Response, error) {
	inv, err := d.Prepare(input)
	if err != nil {
		return inv, nil, err
	}
	if err := d.CollectInputs(ctx, inv, provider); err != nil {
		return inv, nil, err
	}
	if _, err := d.Build(ctx, inv); err != nil {
		return inv, nil, err
	}
	resp, err := d.Dispatch(ctx, inv)
	return inv, resp, err
}

// Wait blocks until background connector starts have returned.
func (d *Dispatcher) Wait() {
	d.starts.Wait()
}

func (d *Dispatcher) reject(inv *Invocation, err error) (*Invocation, error) {
	inv.State = StateRejected
	inv.Err = err
	d.logger.Info("command rejected", "invocation_id", inv.ID, "error", err)
	return inv, err
}

func (d *Dispatcher) abandon(inv *Invocation, cause error) error {
	inv.State = StateAbandoned
	inv.Err = fmt.Errorf("%w: %v", ErrCancelled, cause)
	d.logger.Info("command abandoned", "invocation_id", inv.ID, "command", inv.Parsed.QualifiedName())
	return inv.Err
}

// referencedSkills returns the skills a command names in frontmatter, or all of
// the owning plugin's skills when it names none.
func referencedSkills(owner *plugin.Plugin, cmd *plugin.Command) []*plugin.Skill {
	if owner == nil {
		return nil
	}
	if len(cmd.Skills) == 0 {
		return owner.Skills
	}
	var out []*plugin.Skill
	for _, name := range cmd.Skills {
		for _, s := range owner.Skills {
			if s.Name == name {
				out = append(out, s)
			}
		}
	}
	return out
}

// userTurn substitutes slot values into the template. Values whose slot has no
// {{token}} are appended under their slot name, as are inline arguments that
// did not fill a slot.
func userTurn(inv *Invocation, cmd *plugin.Command) string {
	values := make(map[string]string, len(cmd.Inputs))
	for _, slot := range cmd.Inputs {
		values[slot.Name] = inv.Inputs[slot.Name]
	}

	var sb strings.Builder
	sb.WriteString(cmd.Invocation())
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimSpace(plugin.ReplaceSlots(cmd.Content, values)))

	referenced := make(map[string]bool)
	for _, name := range plugin.SlotNames(cmd.Content) {
		referenced[name] = true
	}
	for _, slot := range cmd.Inputs {
		v := inv.Inputs[slot.Name]
		if referenced[slot.Name] || strings.TrimSpace(v) == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n\n%s:\n%s", slot.Name, v)
	}
	if inv.Parsed.Args != "" && !inv.argsConsumed {
		sb.WriteString("\n\n")
		sb.WriteString(inv.Parsed.Args)
	}
	return sb.String()
}

// hintFor joins the user's inputs for relevance ranking.
func hintFor(inv *Invocation) string {
	parts := []string{inv.Command.Name, inv.Command.Description}
	for _, slot := range inv.Command.Inputs {
		parts = append(parts, inv.Inputs[slot.Name])
	}
	if !inv.argsConsumed {
		parts = append(parts, inv.Parsed.Args)
	}
	return strings.Join(parts, " ")
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
