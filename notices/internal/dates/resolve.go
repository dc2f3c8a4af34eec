package dates

import "context"

// Input carries the signals a candidate offers for its date.
type Input struct {
	RawDateText string
	Title       string
	Link        string
	// FollowDetail allows fetching an HTML detail page.
	FollowDetail bool
}

// Resolve tries, in order: RawDateText, title, URL, PDF (when the link is a
// document), linked detail page. The first hit wins; a miss returns
// ProvNone with a zero date. Never errors.
func (r *Resolver) Resolve(ctx context.Context, in Input) ResolvedDate {
	if in.RawDateText != "" {
		if d, ok := r.ResolveMachine(in.RawDateText); ok {
			return d
		}
	}
	if d, ok := r.ResolveText(in.Title); ok {
		return d
	}
	if in.Link == "" {
		return ResolvedDate{Provenance: ProvNone}
	}
	if d, ok := r.ResolveURL(in.Link); ok {
		return d
	}

	doc := IsDocumentLink(in.Link)
	if !doc && !in.FollowDetail {
		return ResolvedDate{Provenance: ProvNone}
	}
	body, ct, ok := r.fetchDocument(ctx, in.Link)
	if !ok {
		return ResolvedDate{Provenance: ProvNone}
	}
	if isPDF(ct, body) {
		if d, ok := r.ResolvePDF(body); ok {
			return d
		}
		return ResolvedDate{Provenance: ProvNone}
	}
	if in.FollowDetail {
		if d, ok := r.ResolveLinked(body, in.Link); ok {
			return d
		}
	}
	return ResolvedDate{Provenance: ProvNone}
}
