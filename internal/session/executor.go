package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/agent"
	"github.com/dayuer/askrelay/internal/providers"
	"github.com/dayuer/askrelay/internal/roster"
	"github.com/dayuer/askrelay/internal/tools"
)

// Executor runs one conversation to completion and returns its record,
// including the partial record on error.
type Executor interface {
	Execute(ctx context.Context, req LaunchRequest, obs agent.Observer, human agent.HumanInput) ([]agent.Turn, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req LaunchRequest, obs agent.Observer, human agent.HumanInput) ([]agent.Turn, error)

func (f ExecutorFunc) Execute(ctx context.Context, req LaunchRequest, obs agent.Observer, human agent.HumanInput) ([]agent.Turn, error) {
	return f(ctx, req, obs, human)
}

// Selection modes for GroupChatExecutor.
const (
	SelectLLM        = "llm"
	SelectRoundRobin = "round_robin"
)

const (
	proxyName             = "UserProxy"
	defaultSupervisorName = "Supervisor"
	defaultSupervisorMsg  = "You are the supervisor."
)

// GroupChatExecutor builds a group chat from the roster snapshot: one user
// proxy, one supervisor, one task agent per roster entry with a tool per
// task, and a coordinator that selects speakers.
type GroupChatExecutor struct {
	Provider    providers.LLMProvider
	Model       string
	Temperature float64
	Dispatcher  tools.Dispatcher
	Selection   string
	Logger      *zap.Logger
}

func (e *GroupChatExecutor) Execute(ctx context.Context, req LaunchRequest, obs agent.Observer, human agent.HumanInput) ([]agent.Turn, error) {
	chat := e.build(req, obs, human)
	err := chat.Run(ctx, req.Prompt)
	return chat.Messages(), err
}

func (e *GroupChatExecutor) build(req LaunchRequest, obs agent.Observer, human agent.HumanInput) *agent.GroupChat {
	dispatcher := e.Dispatcher
	if dispatcher == nil {
		dispatcher = tools.MockDispatcher{Logger: e.Logger}
	}

	supName := req.SupervisorName
	if supName == "" {
		supName = defaultSupervisorName
	}
	supMsg := req.SupervisorMessage
	if supMsg == "" {
		supMsg = defaultSupervisorMsg
	}
	supModel := req.SupervisorModel
	if supModel == "" {
		supModel = e.Model
	}

	registry := tools.NewRegistry()
	agents := []*agent.LLMAgent{{
		AgentName:     supName,
		AgentRole:     agent.RoleSupervisor,
		SystemMessage: supMsg,
		Desc:          "Supervises the conversation and answers the user directly.",
		Provider:      e.Provider,
		Model:         supModel,
		Temperature:   e.Temperature,
		Logger:        e.Logger,
	}}
	for _, spec := range req.Roster.Assistants {
		agents = append(agents, e.taskAgent(spec, dispatcher, registry))
	}

	var selector agent.Selector = agent.RoundRobinSelector{}
	if e.Selection != SelectRoundRobin {
		selector = &agent.LLMSelector{
			Provider: e.Provider,
			Model:    e.Model,
			Fallback: agent.RoundRobinSelector{},
			Logger:   e.Logger,
		}
	}

	return &agent.GroupChat{
		Proxy:    &agent.UserProxy{ProxyName: proxyName, Human: human, Tools: registry},
		Agents:   agents,
		Selector: selector,
		MaxTurns: req.MaxTurns,
		Observer: obs,
		Logger:   e.Logger,
	}
}

func (e *GroupChatExecutor) taskAgent(spec roster.AgentSpec, d tools.Dispatcher, registry *tools.Registry) *agent.LLMAgent {
	ts := spec.Tools(d)
	for _, t := range ts {
		registry.Register(t)
	}
	return &agent.LLMAgent{
		AgentName:     spec.Name,
		AgentRole:     agent.RoleTaskAgent,
		SystemMessage: spec.SystemMessage,
		Provider:      e.Provider,
		Model:         e.Model,
		Temperature:   e.Temperature,
		Tools:         ts,
		Logger:        e.Logger,
	}
}
