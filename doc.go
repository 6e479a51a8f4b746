// Package k6s provides governance for multi-agent AI coding sessions.
//
// Khoregos sits beside an agent host (Claude Code or similar) and keeps
// a durable record of what every agent does in a shared repository:
// sessions, agents, a sequenced audit log, per-file locks, path
// boundaries, saved context, and filesystem observation. Everything is
// persisted to one embedded SQLite store under .khoregos/, so sessions
// survive restarts and can be resumed with full carry-over context.
//
// # Quick Start
//
// Create a session and bring the stack up:
//
//	db, _ := store.Open(filepath.Join(root, ".khoregos", "k6s.db"))
//	st := state.NewManager(db, root)
//	session, _ := st.CreateSession(ctx, "Build the auth flow", state.CreateSessionParams{})
//	db.Close()
//
//	rt := k6s.NewRuntime(root, session.ID, cfg.Boundaries, nil)
//	if err := rt.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Stop(ctx)
//
// While running, the runtime watches the project tree, records every
// file change in the audit log, and checks changes against the
// configured boundaries.
//
// # Tool Server
//
// Agents reach the engine through a line-delimited JSON-RPC server on
// stdio:
//
//	srv := toolserver.NewServer(session.ID, rt.State(), rt.Audit(),
//	    rt.Locks(), rt.Enforcer(), cfg.Boundaries, nil)
//	srv.Serve(ctx, os.Stdin, os.Stdout)
//
// The server exposes tools for logging, context storage, file locks,
// and boundary checks, plus read-only resources for the current
// session, recent audit events, and boundary rules.
//
// # Sessions and Resume
//
// A completed session can seed its successor:
//
//	md, _ := st.GenerateResumeContext(ctx, oldSession.ID)
//	next, _ := st.CreateSession(ctx, objective, state.CreateSessionParams{
//	    ParentSessionID: oldSession.ID,
//	})
//	st.SaveContext(ctx, next.ID, "resume_context", md, "")
//
// The generated markdown carries the previous objective, agents, and
// saved context into the new session's prompt.
package k6s
