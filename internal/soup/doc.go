// Package soup serves the "soup" feed: a single paginated list of the
// documents and chats a user can see, ordered either by a timestamp or by a
// frecency score from an external scoring service.
//
// Relevance traversals start with ranked candidates, joined against the item
// repository so that only visible items are returned. Once the scoring
// service runs out of candidates the traversal continues in last-updated
// order over the items that were never scored, and the cursor records that
// switch so it is never undone. Cursors are opaque tokens produced by
// EncodeCursor; the service itself keeps no state between pages.
package soup
