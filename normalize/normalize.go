// Package normalize maps decoded source records into graph drafts.
//
// Absent upstream values stay absent here: they are left out of the draft's
// attribute maps. The only placeholders written to the store are the
// legislative sentinels below, applied where the store requires a value.
package normalize

import (
	"fmt"
	"strings"
	"time"

	apperrors "graph-ingest/errors"
	"graph-ingest/graph"
	"graph-ingest/source"
)

// Persisted placeholders for absent legislative data.
const (
	NoData = "No data"
	NoLink = "No link"
	NoText = "No text or info"
)

// DeletedUser is the identity of answer owners whose account is gone.
const DeletedUser = "deleted"

// DefaultLawLinkBase is the public page for a law.
const DefaultLawLinkBase = "https://main.knesset.gov.il/activity/legislation/laws/pages/LawPrimary.aspx"

// ForumQuestion expands one question into its question, tag, answer and
// user drafts. The question and each answer carry the text to embed.
func ForumQuestion(q source.Question) (graph.Batch, error) {
	var b graph.Batch
	if q.QuestionID == 0 {
		return b, fmt.Errorf("%w: question without question_id", apperrors.ErrInvalidInput)
	}

	question := b.AddNode(&graph.NodeDraft{
		Label: graph.LabelQuestion,
		Key:   q.QuestionID,
		CreateOnly: map[string]any{
			"link":          q.Link,
			"creation_date": epoch(q.CreationDate),
		},
		Refresh: map[string]any{
			"title": q.Title,
			"body":  q.BodyMarkdown,
			"score": q.Score,
		},
	})
	if q.FavoriteCount != nil {
		question.SetRefresh("favorite_count", *q.FavoriteCount)
	}
	questionText := q.Title + "\n" + q.BodyMarkdown
	question.EmbedText = questionText

	for _, name := range q.Tags {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		tag := b.AddNode(&graph.NodeDraft{Label: graph.LabelTag, Key: name})
		b.Relate(graph.RelTagged, question.Ref(), tag.Ref(), nil)
	}

	for _, a := range q.Answers {
		if a.AnswerID == 0 {
			return graph.Batch{}, fmt.Errorf("%w: question %d has an answer without answer_id", apperrors.ErrInvalidInput, q.QuestionID)
		}
		answer := b.AddNode(&graph.NodeDraft{
			Label:      graph.LabelAnswer,
			Key:        a.AnswerID,
			CreateOnly: map[string]any{"creation_date": epoch(a.CreationDate)},
			Refresh: map[string]any{
				"is_accepted": a.IsAccepted,
				"score":       a.Score,
				"body":        a.BodyMarkdown,
			},
			EmbedText: questionText + "\n" + a.BodyMarkdown,
		})
		b.Relate(graph.RelAnswers, answer.Ref(), question.Ref(), nil)

		answerer := b.AddNode(userDraft(a.Owner, DeletedUser))
		b.Relate(graph.RelProvided, answerer.Ref(), answer.Ref(), nil)
	}

	if q.Owner != nil && q.Owner.UserID != nil {
		asker := b.AddNode(userDraft(q.Owner, nil))
		b.Relate(graph.RelAsked, asker.Ref(), question.Ref(), nil)
	}
	return b, nil
}

// userDraft keys the user by owner id, or by fallback when the id is absent.
func userDraft(o *source.Owner, fallback any) *graph.NodeDraft {
	n := &graph.NodeDraft{Label: graph.LabelUser, Key: fallback, CreateOnly: map[string]any{}}
	if o == nil {
		return n
	}
	if o.UserID != nil {
		n.Key = *o.UserID
	}
	if o.DisplayName != nil {
		n.CreateOnly["display_name"] = *o.DisplayName
	}
	if o.Reputation != nil {
		n.CreateOnly["reputation"] = *o.Reputation
	}
	return n
}

// Law expands one law into its law draft and one amendment draft plus AMENDS
// relationship per binding. Amendments with a document link carry a document
// slot for the extracted text.
func Law(law source.LawRecord, linkBase string) (graph.Batch, error) {
	var b graph.Batch
	if law.ID == 0 {
		return b, fmt.Errorf("%w: law record without id", apperrors.ErrInvalidInput)
	}
	if linkBase == "" {
		linkBase = DefaultLawLinkBase
	}

	names := make([]string, 0, len(law.Names))
	for _, n := range law.Names {
		names = append(names, n.Name)
	}
	classifications := make([]string, 0, len(law.Classifications))
	for _, c := range law.Classifications {
		classifications = append(classifications, c.ClassificiationDesc)
	}

	parent := b.AddNode(&graph.NodeDraft{
		Label: graph.LabelLaw,
		Key:   law.ID,
		Refresh: map[string]any{
			"names":           strings.Join(names, ", "),
			"classifications": classifications,
			"link":            fmt.Sprintf("%s?t=lawlaws&st=lawlaws&lawitemid=%d", linkBase, law.ID),
		},
	})
	setOptional(parent, "publication_date", law.PublicationDate)
	setOptional(parent, "latest_date", law.LatestPublicationDate)
	setOptional(parent, "validity", law.LawValidityDesc)

	for _, binding := range law.Bindings {
		if binding.LawID == 0 {
			return graph.Batch{}, fmt.Errorf("%w: law %d has a binding without LawID", apperrors.ErrInvalidInput, law.ID)
		}
		amendment := b.AddNode(&graph.NodeDraft{
			Label:   graph.LabelAmendment,
			Key:     binding.LawID,
			Refresh: map[string]any{},
		})
		setOptional(amendment, "type", binding.BindingTypeDesc)

		publication := NoData
		if d := binding.Detail; d != nil {
			amendment.SetRefresh("name", valueOr(d.Name, NoData))
			if d.PublicationDate != nil {
				publication = *d.PublicationDate
			}
		} else {
			amendment.SetRefresh("name", NoData)
		}
		amendment.SetRefresh("publication_date", publication)

		if binding.Document.Present() {
			amendment.SetRefresh("link", binding.Document.Path())
		} else {
			amendment.SetRefresh("link", NoLink)
		}
		amendment.Document = &graph.DocumentSlot{Link: binding.Document.Path(), Attr: "text"}

		b.Relate(graph.RelAmends, amendment.Ref(), parent.Ref(), map[string]any{"date": publication})
	}
	return b, nil
}

func setOptional(n *graph.NodeDraft, name string, v *string) {
	if v != nil {
		n.SetRefresh(name, *v)
	}
}

func valueOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func epoch(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
