// Package logging builds the *slog.Logger shared by the supervisor, the
// connectivity tester and the control API.
//
// Components take a logger in their Config; a nil logger means Nop().
package logging
