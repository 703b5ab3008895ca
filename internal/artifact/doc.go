// Package artifact stores pre-rendered pages and serves them over HTTP.
//
// # Overview
//
// An artifact is a rendered output addressed by its request path: "/" for the
// front page, "/a/2.html" for page two of board a, "/a/res/551.html" for a
// thread. The Page Generator writes artifacts into a BoltStore; the Server
// reads them back through an in-process hot cache.
//
// # Architecture
//
//	 generator ──Write──▶ BoltStore ──OnWrite──▶ Cache.Delete
//	                         ▲                      │
//	                         │ Get (miss)           │ Get (hit)
//	                         └────── Server ◀───────┘
//	                                   │
//	                     /.static/* ──▶ DirBackend
//
// # Conditional GET
//
// Every artifact carries a modification time formatted with http.TimeFormat.
// A request whose If-Modified-Since equals that string exactly is answered
// with 304 and an empty body, unless 304 responses are disabled. Writes always
// advance the modification time by at least one second so a regenerated
// artifact never keeps its predecessor's Last-Modified value.
//
// # Cache Consistency
//
// The hot cache has no eviction policy. An entry is dropped only when its
// path is written again (BoltStore write hook), when Flush is called, or never
// populated at all when the server runs with NoCache.
package artifact
