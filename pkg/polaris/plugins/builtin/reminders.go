package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
	"github.com/jholhewres/polaris/pkg/polaris/store"
)

// remindersKey is the store document holding pending reminders.
const remindersKey = "reminders"

var delayPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var delayUnits = map[string]struct {
	dur  time.Duration
	name string
}{
	"s": {time.Second, "seconds"},
	"m": {time.Minute, "minutes"},
	"h": {time.Hour, "hours"},
	"d": {24 * time.Hour, "days"},
}

func init() {
	plugins.Register("reminders", func(host plugins.Host) (plugins.Plugin, error) {
		return NewReminders(host, time.Now)
	})
}

// Reminder is one pending reminder.
type Reminder struct {
	Alarm        int64                 `json:"alarm"`
	Conversation channels.Conversation `json:"conversation"`
	Text         string                `json:"text"`
}

// Reminders stores delayed messages and delivers them from its cron hook.
type Reminders struct {
	host plugins.Host
	now  func() time.Time

	mu      sync.Mutex
	pending map[string]Reminder
}

// NewReminders loads the pending reminders from the host store.
func NewReminders(host plugins.Host, now func() time.Time) (*Reminders, error) {
	r := &Reminders{host: host, now: now, pending: make(map[string]Reminder)}
	data, err := host.Store().Load(context.Background(), remindersKey)
	if err != nil {
		return nil, fmt.Errorf("loading reminders: %w", err)
	}
	if err := store.Into(data, &r.pending); err != nil {
		return nil, fmt.Errorf("decoding reminders: %w", err)
	}
	return r, nil
}

func (r *Reminders) Name() string { return "reminders" }

func (r *Reminders) Description() string {
	return fmt.Sprintf("Set a reminder for yourself. Example: %sremindme 2h stretch", r.host.Prefix())
}

func (r *Reminders) Commands() []plugins.Command {
	params := []plugins.Parameter{{Name: "delay", Required: true}, {Name: "message", Required: true}}
	return []plugins.Command{
		{Pattern: "/remindme", Parameters: params, Description: "Reminds you after a delay like 30m, 2h or 1d"},
		{Pattern: "/reminder", Parameters: params, Hidden: true},
		{Pattern: "/remind$", Parameters: params, Hidden: true},
		{Pattern: "/r ", Parameters: params, Hidden: true},
	}
}

// Pending returns the number of reminders not yet delivered.
func (r *Reminders) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Reminders) Run(ctx context.Context, msg *channels.Message, match plugins.Match) error {
	markdown := plugins.WithFormat("Markdown")
	input := plugins.Input(msg.Content)
	if input == "" {
		return r.host.Reply(msg, "`"+match.Command.Usage(r.host.Prefix())+"`\n"+r.Description(), markdown)
	}

	delay := plugins.FirstWord(input)
	m := delayPattern.FindStringSubmatch(delay)
	if m == nil {
		return r.host.Reply(msg, "The delay must be in this format: `(integer)(s|m|h|d)`.\nExample: `2h` for 2 hours.", markdown)
	}
	unit := delayUnits[m[2]]
	amount, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || amount > math.MaxInt64/int64(unit.dur) {
		return r.host.Reply(msg, "That delay is too long.")
	}

	text := plugins.Input(input)
	if text == "" {
		return r.host.Reply(msg, "Please include a reminder.")
	}
	text = "_" + text + "_"
	if msg.Sender.Username != "" {
		text += "\n@" + msg.Sender.Username
	}

	r.mu.Lock()
	r.pending[uuid.NewString()] = Reminder{
		Alarm:        r.now().Add(time.Duration(amount) * unit.dur).Unix(),
		Conversation: msg.Conversation,
		Text:         text,
	}
	err = r.save(ctx)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	return r.host.Reply(msg,
		fmt.Sprintf("Your reminder has been set for *%d %s* from now:\n\n%s", amount, unit.name, text),
		markdown)
}

// Cron delivers every due reminder, oldest first, and forgets it.
func (r *Reminders) Cron(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().Unix()
	var due []string
	for id, rem := range r.pending {
		if rem.Alarm <= now {
			due = append(due, id)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := r.pending[due[i]], r.pending[due[j]]
		if a.Alarm != b.Alarm {
			return a.Alarm < b.Alarm
		}
		return due[i] < due[j]
	})

	me := r.host.Me()
	var sendErr error
	for _, id := range due {
		rem := r.pending[id]
		msg := channels.NewMessage(rem.Conversation, me, rem.Text, channels.MessageText)
		msg.Extra = map[string]any{"format": "Markdown"}
		if sendErr = r.host.Send(msg); sendErr != nil {
			break
		}
		delete(r.pending, id)
	}
	return errors.Join(sendErr, r.save(ctx))
}

// save persists the pending reminders. Callers hold r.mu.
func (r *Reminders) save(ctx context.Context) error {
	data, err := store.From(r.pending)
	if err != nil {
		return fmt.Errorf("encoding reminders: %w", err)
	}
	if err := r.host.Store().Save(ctx, remindersKey, data); err != nil {
		return fmt.Errorf("saving reminders: %w", err)
	}
	return nil
}
