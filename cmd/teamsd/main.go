// Command teamsd is a thin line-delimited JSON front end over the
// coordination substrate in pkg/teams. It is not a transport
// implementation: framing, auth, and the tool-call protocol a real agent
// host speaks are out of scope here. It exists to show the command
// surface bound to a running process.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/opencode-teams/coordinator/pkg/config"
	"github.com/opencode-teams/coordinator/pkg/teams"
)

type request struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

type response struct {
	Result any                  `json:"result,omitempty"`
	Error  *teams.ErrorEnvelope `json:"error,omitempty"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	coord := teams.NewCoordinator(cfg, log)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(response{Error: &teams.ErrorEnvelope{Kind: "invalid_arg", Message: err.Error()}})
			continue
		}
		result, err := dispatch(context.Background(), coord, req)
		if err != nil {
			enc.Encode(response{Error: teams.ToEnvelope(err)})
			continue
		}
		enc.Encode(response{Result: result})
	}
	if err := scanner.Err(); err != nil {
		log.Error("stdin read failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func dispatch(ctx context.Context, coord *teams.Coordinator, req request) (any, error) {
	switch req.Op {
	case "team_create":
		var args struct{ TeamName, LeadName, LeadModel, SessionID string }
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return coord.CreateTeam(args.TeamName, args.LeadName, args.LeadModel, args.SessionID)

	case "team_delete":
		return nil, coord.DeleteTeam()

	case "read_config":
		return coord.ReadConfig()

	case "spawn_teammate":
		var p teams.SpawnParams
		if err := json.Unmarshal(req.Args, &p); err != nil {
			return nil, err
		}
		var leadArgs struct{ LeadAgentID string }
		json.Unmarshal(req.Args, &leadArgs)
		return coord.SpawnTeammate(ctx, leadArgs.LeadAgentID, p)

	case "force_kill_teammate":
		var args struct{ Name, AgentHost, Cwd string }
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, coord.ForceKillTeammate(ctx, args.Name, args.AgentHost, args.Cwd)

	case "process_shutdown_approved":
		var args struct{ From, To, AgentHost, Cwd string }
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, coord.ProcessShutdownApproved(ctx, args.From, args.To, args.AgentHost, args.Cwd)

	case "send_message":
		var args struct {
			From, To, Color, Content, Summary string
			Type                              teams.MessageKind
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return coord.SendMessage(args.From, args.To, args.Type, args.Color, args.Content, args.Summary)

	case "broadcast":
		var args struct{ From, Color, Content, Summary string }
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, coord.Broadcast(args.From, args.Color, args.Content, args.Summary)

	case "read_inbox":
		var args struct {
			Agent      string
			MarkAsRead bool
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return coord.ReadInbox(args.Agent, args.MarkAsRead)

	case "poll_inbox":
		var args struct {
			Agent     string
			TimeoutMs int
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return coord.PollInbox(ctx, args.Agent, args.TimeoutMs)

	case "task_create":
		var args struct {
			Subject, Description string
			BlockedBy            []int
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return coord.CreateTask(args.Subject, args.Description, args.BlockedBy)

	case "task_update":
		var args struct {
			ID          int
			Status      *teams.TaskStatus
			Owner       *string
			Blocks      *[]int
			BlockedBy   *[]int
			Subject     *string
			Description *string
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return coord.UpdateTask(args.ID, teams.TaskUpdate{
			Status: args.Status, Owner: args.Owner, Blocks: args.Blocks,
			BlockedBy: args.BlockedBy, Subject: args.Subject, Description: args.Description,
		})

	case "task_list":
		return coord.ListTasks()

	case "task_get":
		var args struct{ ID int }
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return coord.GetTask(args.ID)

	case "list_agent_templates":
		return coord.ListAgentTemplates(), nil

	case "check_agent_health":
		var args struct{ Name string }
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return coord.CheckAgentHealth(ctx, args.Name)

	case "check_all_agents_health":
		return coord.CheckAllAgentHealth(ctx)

	default:
		return nil, fmt.Errorf("unknown op %q", req.Op)
	}
}
