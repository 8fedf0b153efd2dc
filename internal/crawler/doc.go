// Package crawler implements the activity feed polling engine: the request
// queue discipline, conditional polling of each watched account's public
// events, event classification, commit fetching for pushes and the join that
// reassembles a push once all of its commits are known.
package crawler
