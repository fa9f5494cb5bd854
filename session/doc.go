// Package session holds paginated query results between tool calls.
//
// # Overview
//
// Some queries return more rows than fit in a single tool response. The
// caller creates a session holding the full ordered result set and then
// drains it page by page with Next, or all at once with CollectAll. Each
// session has a cursor marking how much has been delivered.
//
// # Lifecycle
//
// 1. Create: a UUID v4 is generated, the results are stored with the cursor
// at 0, and the id is returned.
//
// 2. Next / CollectAll: items are dispensed from the cursor, which only
// moves forward. HasMore reports false once the cursor reaches the end.
//
// 3. Remove: explicit deletion. Removing an unknown id is not an error.
//
// # Eviction
//
// Whenever Create pushes the number of stored sessions over the cap (100),
// every session older than one hour is deleted. The sweep is coarse: a store
// full of young sessions can stay above the cap until they age out.
//
// # Concurrency
//
// A Store is safe for concurrent use. Every operation, the sweep included,
// runs under a single mutex so cursor advancement is never torn.
package session
