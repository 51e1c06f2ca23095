// Package notification provides the Telegram surface of the assignment
// engine and the operator escalation channels
package notification

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/StudioSol/set"
	"github.com/jpillora/backoff"
	"github.com/olekukonko/tablewriter"
	"github.com/raykavin/deskroute/pkg/core"
	"github.com/raykavin/deskroute/pkg/dispatch"
	"github.com/raykavin/deskroute/pkg/metric"
	log "github.com/sirupsen/logrus"
	tb "gopkg.in/tucnak/telebot.v2"
)

// Command pattern regex for administrative commands
var (
	addAgentRegexp = regexp.MustCompile(`/addagent\s+(?P<id>\w+)\s+@?(?P<handle>\w+)(?:\s+(?P<weight>\d+))?(?:\s+(?P<cap>\d+))?`)
	agentIDRegexp  = regexp.MustCompile(`agent\s+(?P<id>\w+)`)
	weightRegexp   = regexp.MustCompile(`/weight\s+(?P<id>\w+)\s+(?P<weight>\d+)`)
	policyRegexp   = regexp.MustCompile(`/policy(?:\s+(?P<method>\w+))?`)
	historyRegexp  = regexp.MustCompile(`/history(?:\s+(?P<limit>\d+))?`)
)

// How many times a retryable assignment failure is retried before the
// requester is asked to try again later
const maxAssignAttempts = 3

// telegram exposes the dispatch controller to end users and operators
type telegram struct {
	settings    *core.Settings
	controller  *dispatch.Controller
	defaultMenu *tb.ReplyMarkup
	client      *tb.Bot
	admins      *set.LinkedHashSetINT64
	escalation  core.Notifier
}

// Option is a function that configures a telegram instance
type Option func(telegram *telegram)

// WithEscalation routes pool-exhausted alerts to an additional notifier
func WithEscalation(notifier core.Notifier) Option {
	return func(telegram *telegram) {
		telegram.escalation = notifier
	}
}

// NewTelegram creates and initializes a new Telegram service
func NewTelegram(controller *dispatch.Controller, settings *core.Settings, options ...Option) (core.NotifierWithStart, error) {
	// Initialize menu and poller
	menu := &tb.ReplyMarkup{ResizeReplyKeyboard: true}
	poller := &tb.LongPoller{Timeout: 10 * time.Second}

	// Drop updates without a usable sender before they reach handlers
	sanePoller := tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			log.Error("message or sender is nil ", u)
			return false
		}
		return true
	})

	// Initialize bot client
	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     settings.Telegram.Token,
		Poller:    sanePoller,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	// Setup keyboard and commands
	setupKeyboard(menu)
	if err := setupCommands(client); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	admins := set.NewLinkedHashSetINT64()
	for _, id := range settings.Telegram.Admins {
		admins.Add(int64(id))
	}

	// Create and configure bot instance
	bot := &telegram{
		controller:  controller,
		client:      client,
		settings:    settings,
		defaultMenu: menu,
		admins:      admins,
	}

	// Apply custom options if provided
	for _, option := range options {
		option(bot)
	}

	// Register command handlers
	registerHandlers(client, bot)

	return bot, nil
}

// setupKeyboard configures the reply keyboard layout
func setupKeyboard(menu *tb.ReplyMarkup) {
	var (
		supportBtn = menu.Text("/support")
		helpBtn    = menu.Text("/help")
	)

	menu.Reply(
		menu.Row(supportBtn, helpBtn),
	)
}

// setupCommands configures available bot commands
func setupCommands(client *tb.Bot) error {
	return client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/support", Description: "Connect to a support agent"},
		{Text: "/agents", Description: "List support agents (admin)"},
		{Text: "/addagent", Description: "Add or update a support agent (admin)"},
		{Text: "/disableagent", Description: "Disable a support agent (admin)"},
		{Text: "/enableagent", Description: "Re-enable a support agent (admin)"},
		{Text: "/weight", Description: "Change an agent's traffic weight (admin)"},
		{Text: "/policy", Description: "Show or switch the assignment policy (admin)"},
		{Text: "/history", Description: "Show recent assignments (admin)"},
		{Text: "/stats", Description: "Show load distribution (admin)"},
	})
}

// registerHandlers registers all command handlers
func registerHandlers(client *tb.Bot, bot *telegram) {
	client.Handle("/start", bot.HelpHandle)
	client.Handle("/help", bot.HelpHandle)
	client.Handle("/support", bot.SupportHandle)
	client.Handle("/agents", bot.admin(bot.AgentsHandle))
	client.Handle("/addagent", bot.admin(bot.AddAgentHandle))
	client.Handle("/disableagent", bot.admin(bot.DisableAgentHandle))
	client.Handle("/enableagent", bot.admin(bot.EnableAgentHandle))
	client.Handle("/weight", bot.admin(bot.WeightHandle))
	client.Handle("/policy", bot.admin(bot.PolicyHandle))
	client.Handle("/history", bot.admin(bot.HistoryHandle))
	client.Handle("/stats", bot.admin(bot.StatsHandle))
}

// admin wraps a handler so only configured operator IDs can invoke it
func (t *telegram) admin(handler func(m *tb.Message)) func(m *tb.Message) {
	return func(m *tb.Message) {
		if !t.admins.InArray(m.Sender.ID) {
			log.Error("unauthorized admin command from ", m.Sender.ID)
			t.sendMessage(m.Sender, "This command is restricted to operators.")
			return
		}
		handler(m)
	}
}

// Start begins the Telegram bot polling loop
func (t *telegram) Start() {
	go t.client.Start()
	log.Info("[TELEGRAM]: bot started")
}

// Notify sends a message to all configured operators
func (t *telegram) Notify(text string) {
	for admin := range t.admins.Iter() {
		_, err := t.client.Send(&tb.User{ID: admin}, text)
		if err != nil {
			log.WithError(err).Error("failed to send notification")
		}
	}
}

// sendMessage sends a message to a specific user
func (t *telegram) sendMessage(to *tb.User, text string, options ...interface{}) {
	_, err := t.client.Send(to, text, options...)
	if err != nil {
		log.WithError(err).Error("failed to send message")
	}
}

// SupportHandle routes the requester to a support account. Retryable
// failures (lock timeout, storage) are retried with backoff before the
// requester is asked to come back later; an exhausted pool is terminal for
// the call.
func (t *telegram) SupportHandle(m *tb.Message) {
	assignment, err := t.assignWithRetry(m)
	if err != nil {
		if errors.Is(err, core.ErrNoEligibleAccount) {
			t.sendMessage(m.Sender, "All support agents are busy right now. Please try again in a few minutes.")
			t.escalate(fmt.Sprintf("support pool exhausted, requester %d turned away", m.Sender.ID))
			return
		}

		log.WithError(err).Error("assignment failed")
		t.sendMessage(m.Sender, "Something went wrong, please try again later.")
		return
	}

	t.sendMessage(m.Sender, fmt.Sprintf(
		"You are being connected to our support agent.\nTap to open the chat: https://t.me/%s",
		assignment.Handle,
	), t.defaultMenu)
}

// assignWithRetry calls Assign, retrying retryable failures with backoff
func (t *telegram) assignWithRetry(m *tb.Message) (dispatch.Assignment, error) {
	retry := &backoff.Backoff{
		Min: 100 * time.Millisecond,
		Max: 1 * time.Second,
	}

	var (
		assignment dispatch.Assignment
		err        error
	)

	for attempt := 0; attempt < maxAssignAttempts; attempt++ {
		assignment, err = t.controller.Assign(
			context.Background(),
			strconv.FormatInt(m.Sender.ID, 10),
			m.Sender.Username,
		)
		if err == nil || !core.IsRetryable(err) {
			return assignment, err
		}

		time.Sleep(retry.Duration())
	}

	return assignment, err
}

// escalate forwards a pool alert to operators and the optional escalation
// notifier
func (t *telegram) escalate(text string) {
	t.Notify("⚠️ " + text)
	if t.escalation != nil {
		t.escalation.Notify(text)
	}
}

// HelpHandle displays available commands
func (t *telegram) HelpHandle(m *tb.Message) {
	commands, err := t.client.GetCommands()
	if err != nil {
		log.WithError(err).Error("failed to get commands")
		return
	}

	lines := make([]string, 0, len(commands))
	for _, command := range commands {
		lines = append(lines, fmt.Sprintf("/%s - %s", command.Text, command.Description))
	}

	t.sendMessage(m.Sender, strings.Join(lines, "\n"), t.defaultMenu)
}

// AgentsHandle lists every support account with its live load
func (t *telegram) AgentsHandle(m *tb.Message) {
	loads, err := t.controller.Agents(context.Background())
	if err != nil {
		log.WithError(err).Error("failed to list agents")
		t.sendMessage(m.Sender, "Failed to list agents.")
		return
	}

	if len(loads) == 0 {
		t.sendMessage(m.Sender, "No agents registered.")
		return
	}

	t.sendMessage(m.Sender, fmt.Sprintf("```\n%s\n```", formatAgentsTable(loads)))
}

// formatAgentsTable renders the agent pool as a fixed-width table
func formatAgentsTable(loads []dispatch.AgentLoad) string {
	builder := &strings.Builder{}

	table := tablewriter.NewWriter(builder)
	table.SetHeader([]string{"ID", "Handle", "Status", "Weight", "Cap", "Open", "Served"})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
	})

	for _, load := range loads {
		account := load.Account
		table.Append([]string{
			account.ID,
			"@" + account.Handle,
			string(account.Status),
			strconv.Itoa(account.Weight),
			strconv.Itoa(account.MaxConcurrent),
			strconv.Itoa(load.Open),
			strconv.FormatInt(account.TotalServed, 10),
		})
	}

	table.Render()
	return builder.String()
}

// AddAgentHandle creates or updates a support account
func (t *telegram) AddAgentHandle(m *tb.Message) {
	match := addAgentRegexp.FindStringSubmatch(m.Text)
	if len(match) == 0 {
		t.sendMessage(m.Sender, "Invalid command.\nExample of usage:\n`/addagent alice alice_support 2 5`")
		return
	}

	command := extractCommandParams(addAgentRegexp, match)

	weight, capacity := 1, 3
	if command["weight"] != "" {
		weight, _ = strconv.Atoi(command["weight"])
	}
	if command["cap"] != "" {
		capacity, _ = strconv.Atoi(command["cap"])
	}

	account := core.SupportAccount{
		ID:            command["id"],
		Handle:        command["handle"],
		DisplayName:   command["handle"],
		Weight:        weight,
		MaxConcurrent: capacity,
		Status:        core.StatusAvailable,
	}

	if err := t.controller.UpsertAccount(context.Background(), account); err != nil {
		if errors.Is(err, core.ErrInvalidAccount) {
			t.sendMessage(m.Sender, "Invalid agent: weight and capacity must be positive.")
			return
		}

		log.WithError(err).Error("failed to upsert agent")
		t.sendMessage(m.Sender, "Failed to save agent.")
		return
	}

	t.sendMessage(m.Sender, fmt.Sprintf("Agent `%s` saved (weight %d, capacity %d).", account.ID, weight, capacity))
}

// DisableAgentHandle removes an account from the rotation without deleting
// it, preserving its ledger history
func (t *telegram) DisableAgentHandle(m *tb.Message) {
	t.setAgentStatus(m, core.StatusDisabled, "disabled")
}

// EnableAgentHandle returns a disabled account to the rotation
func (t *telegram) EnableAgentHandle(m *tb.Message) {
	t.setAgentStatus(m, core.StatusAvailable, "enabled")
}

func (t *telegram) setAgentStatus(m *tb.Message, status core.AccountStatus, verb string) {
	match := agentIDRegexp.FindStringSubmatch(m.Text)
	if len(match) == 0 {
		t.sendMessage(m.Sender, "Invalid command.\nExample of usage:\n`/disableagent alice`")
		return
	}

	id := extractCommandParams(agentIDRegexp, match)["id"]

	if err := t.controller.SetAccountStatus(context.Background(), id, status); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			t.sendMessage(m.Sender, fmt.Sprintf("Unknown agent `%s`.", id))
			return
		}

		log.WithError(err).Error("failed to change agent status")
		t.sendMessage(m.Sender, "Failed to change agent status.")
		return
	}

	t.sendMessage(m.Sender, fmt.Sprintf("Agent `%s` %s.", id, verb))
}

// WeightHandle changes the traffic weight of an account
func (t *telegram) WeightHandle(m *tb.Message) {
	match := weightRegexp.FindStringSubmatch(m.Text)
	if len(match) == 0 {
		t.sendMessage(m.Sender, "Invalid command.\nExample of usage:\n`/weight alice 3`")
		return
	}

	command := extractCommandParams(weightRegexp, match)
	weight, err := strconv.Atoi(command["weight"])
	if err != nil || weight <= 0 {
		t.sendMessage(m.Sender, "Weight must be a positive number.")
		return
	}

	account, err := t.controller.Account(context.Background(), command["id"])
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			t.sendMessage(m.Sender, fmt.Sprintf("Unknown agent `%s`.", command["id"]))
			return
		}

		log.WithError(err).Error("failed to load agent")
		t.sendMessage(m.Sender, "Failed to load agent.")
		return
	}

	account.Weight = weight
	if err := t.controller.UpsertAccount(context.Background(), account); err != nil {
		log.WithError(err).Error("failed to update agent weight")
		t.sendMessage(m.Sender, "Failed to update agent weight.")
		return
	}

	t.sendMessage(m.Sender, fmt.Sprintf("Agent `%s` now has weight %d.", account.ID, weight))
}

// PolicyHandle shows or switches the assignment policy
func (t *telegram) PolicyHandle(m *tb.Message) {
	match := policyRegexp.FindStringSubmatch(m.Text)
	command := extractCommandParams(policyRegexp, match)

	if command["method"] == "" {
		method, err := t.controller.Policy(context.Background())
		if err != nil {
			log.WithError(err).Error("failed to read policy")
			t.sendMessage(m.Sender, "Failed to read policy.")
			return
		}

		t.sendMessage(m.Sender, fmt.Sprintf(
			"Current policy: `%s`\nAvailable: `%s`, `%s`",
			method, core.MethodRoundRobin, core.MethodWeightedLeastLoaded,
		))
		return
	}

	method := core.Method(command["method"])
	if err := t.controller.SetPolicy(context.Background(), method); err != nil {
		log.WithError(err).Error("failed to switch policy")
		t.sendMessage(m.Sender, fmt.Sprintf(
			"Unknown policy `%s`. Available: `%s`, `%s`",
			method, core.MethodRoundRobin, core.MethodWeightedLeastLoaded,
		))
		return
	}

	t.sendMessage(m.Sender, fmt.Sprintf("Policy switched to `%s`.", method))
}

// HistoryHandle shows the most recent assignments, newest first
func (t *telegram) HistoryHandle(m *tb.Message) {
	match := historyRegexp.FindStringSubmatch(m.Text)
	command := extractCommandParams(historyRegexp, match)

	limit := 10
	if command["limit"] != "" {
		limit, _ = strconv.Atoi(command["limit"])
	}

	records, err := t.controller.History(context.Background(), dispatch.HistoryFilter{Limit: limit})
	if err != nil {
		log.WithError(err).Error("failed to read history")
		t.sendMessage(m.Sender, "Failed to read history.")
		return
	}

	if len(records) == 0 {
		t.sendMessage(m.Sender, "No assignments recorded.")
		return
	}

	lines := make([]string, 0, len(records))
	for _, record := range records {
		lines = append(lines, fmt.Sprintf(
			"`%s` → `%s` (%s)",
			record.CreatedAt.Format("01-02 15:04"),
			record.AccountID,
			record.Method,
		))
	}

	t.sendMessage(m.Sender, strings.Join(lines, "\n"))
}

// StatsHandle summarizes how evenly the open load is spread over the pool
func (t *telegram) StatsHandle(m *tb.Message) {
	loads, err := t.controller.Agents(context.Background())
	if err != nil {
		log.WithError(err).Error("failed to list agents")
		t.sendMessage(m.Sender, "Failed to compute stats.")
		return
	}

	ratios := make([]float64, 0, len(loads))
	for _, load := range loads {
		if load.Account.Status == core.StatusDisabled {
			continue
		}
		ratios = append(ratios, float64(load.Open)/float64(load.Account.Weight))
	}

	if len(ratios) == 0 {
		t.sendMessage(m.Sender, "No active agents.")
		return
	}

	summary := metric.Summarize(ratios)
	t.sendMessage(m.Sender, fmt.Sprintf(
		"*LOAD DISTRIBUTION*\nAgents: `%d`\nMean ratio: `%.2f`\nStdDev: `%.2f`\nMin: `%.2f`\nMedian: `%.2f`\nMax: `%.2f`",
		len(ratios), summary.Mean, summary.StdDev, summary.Min, summary.Median, summary.Max,
	))
}

// Helper function to extract named groups from regex matches
func extractCommandParams(regex *regexp.Regexp, match []string) map[string]string {
	command := make(map[string]string)
	for i, name := range regex.SubexpNames() {
		if i != 0 && name != "" && i < len(match) {
			command[name] = match[i]
		}
	}
	return command
}
