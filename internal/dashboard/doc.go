// Package dashboard turns a normalized feed and a selection into a render
// model. Everything here is a pure function of its inputs except the impact
// jitter, which is injected.
//
// The flow mirrors one page view:
//
//	feed (or fetch error) ──> empty? ──yes──> title + warning, stop
//	                            │
//	                            no
//	                            ▼
//	              summary tiles, distinct names, selection
//	                            ▼
//	              detail of first matching record
//	                            ▼
//	              impact: radius = ln(diameter) * 10, marker near (20, 0)
package dashboard
