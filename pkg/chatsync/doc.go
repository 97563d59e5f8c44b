// Package chatsync is the real-time session synchronization engine: it owns
// the authenticated session's live channel, merges streamed presence,
// message and typing events with REST-loaded state, tracks unread
// notifications per conversation and keeps the conversation list's
// latest-activity ordering correct under concurrent updates.
//
// Ownership model:
//   - The Engine serializes every mutation of the presence tracker, message
//     store, notification accumulator and chat list through one lock: the
//     session's single logical event timeline.
//   - REST calls and the streamed channel may be in flight concurrently;
//     completions re-enter the timeline through guarded apply methods, so a
//     stale history load or a redelivered message id can never corrupt state.
//   - The SessionManager owns the identity lifecycle and opens/closes the
//     channel exactly once per login/logout; subscriptions are tied to those
//     transitions, never to view lifecycles.
//
// Rendering, credential storage mechanics and media hosting are external
// collaborators; the engine publishes StateFrames for any front end to
// consume.
package chatsync
