// Package authority talks to the remote system of record.
//
// Client is the narrow read/insert/update contract the appliers and the
// conflict resolver use. Three drivers implement it: HTTPClient for the REST
// gateway, PostgresClient for direct database access, and Memory for tests
// and offline demos. Every failure is an *Error carrying a machine-checkable
// Code; Retryable maps codes to the retry-versus-terminal decision.
package authority
