/*
Package palaver is a deterministic execution engine for LLM-assisted
conversational flows.

A flow is a directed graph of question, decision, action, subflow, and
terminal nodes with guarded, prioritized edges. The engine walks it one
turn at a time: deterministic guards route wherever they can, and an
LLM is consulted only at explicitly flexible decision points and for
interpreting free-text answers. Given the same state, the same input,
and the same LLM verdicts, a turn is always reproducible.

# Architecture

The core is hexagonal. Everything that touches the outside world — the
LLM, the session-state store, the versioned flow repository,
distributed locking — enters through the narrow interfaces in
pkg/ports. Adapters live under pkg/adapters (in-memory, Redis, SQLite,
Ollama); the turn logic itself never imports any of them.

# Usage

	repo := memory.NewRepository()
	repo.Put(bookingFlow)

	eng, err := palaver.New(repo,
		palaver.WithLLM(ollamaClient),
		palaver.WithStateStore(redisStore),
	)
	if err != nil {
		log.Fatal(err)
	}

	out, err := eng.Start(ctx, "session-123", "booking")
	// present out.Prompt, collect input, then:
	out, err = eng.Turn(ctx, "session-123", "booking", palaver.Answer{Value: "tennis"})

Flows are stored versioned; the modification service (Modifier) applies
atomic batches of edits, recompiles, and commits a new version only
when the whole batch validates.
*/
package palaver
