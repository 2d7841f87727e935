package normalize

import (
	"testing"

	apperrors "graph-ingest/errors"
	"graph-ingest/graph"
	"graph-ingest/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func countLabels(b graph.Batch) map[graph.Label]int {
	out := make(map[graph.Label]int)
	for _, n := range b.Nodes {
		out[n.Label]++
	}
	return out
}

func countRels(b graph.Batch) map[graph.RelType]int {
	out := make(map[graph.RelType]int)
	for _, r := range b.Rels {
		out[r.Type]++
	}
	return out
}

func TestForumQuestion(t *testing.T) {
	q := source.Question{
		QuestionID:   11,
		Title:        "Title",
		BodyMarkdown: "Body",
		Link:         "https://so/q/11",
		Score:        3,
		CreationDate: 1700000000,
		Tags:         []string{"neo4j", "cypher"},
		Owner:        &source.Owner{UserID: ptr(int64(1)), DisplayName: ptr("asker")},
		Answers: []source.Answer{
			{AnswerID: 21, BodyMarkdown: "A1", Owner: &source.Owner{UserID: ptr(int64(2))}},
			{AnswerID: 22, BodyMarkdown: "A2", Owner: &source.Owner{DisplayName: ptr("gone")}},
		},
	}

	b, err := ForumQuestion(q)
	require.NoError(t, err)

	labels := countLabels(b)
	assert.Equal(t, 1, labels[graph.LabelQuestion])
	assert.Equal(t, 2, labels[graph.LabelTag])
	assert.Equal(t, 2, labels[graph.LabelAnswer])
	assert.Equal(t, 3, labels[graph.LabelUser])

	rels := countRels(b)
	assert.Equal(t, 2, rels[graph.RelTagged])
	assert.Equal(t, 2, rels[graph.RelAnswers])
	assert.Equal(t, 2, rels[graph.RelProvided])
	assert.Equal(t, 1, rels[graph.RelAsked])

	question := b.Nodes[0]
	assert.Equal(t, "Title\nBody", question.EmbedText)
	assert.Contains(t, question.CreateOnly, "link")
	assert.NotContains(t, question.Refresh, "favorite_count", "absent optional is left out")

	var answerTexts []string
	var userKeys []any
	for _, n := range b.Nodes {
		switch n.Label {
		case graph.LabelAnswer:
			answerTexts = append(answerTexts, n.EmbedText)
		case graph.LabelUser:
			userKeys = append(userKeys, n.Key)
		}
	}
	assert.Equal(t, []string{"Title\nBody\nA1", "Title\nBody\nA2"}, answerTexts)
	assert.ElementsMatch(t, []any{int64(2), DeletedUser, int64(1)}, userKeys)
}

func TestForumQuestionWithoutAsker(t *testing.T) {
	b, err := ForumQuestion(source.Question{QuestionID: 5, Owner: &source.Owner{DisplayName: ptr("anon")}})
	require.NoError(t, err)
	assert.Equal(t, 0, countRels(b)[graph.RelAsked])
	assert.Equal(t, 0, countLabels(b)[graph.LabelUser])
}

func TestForumQuestionInvalid(t *testing.T) {
	_, err := ForumQuestion(source.Question{})
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = ForumQuestion(source.Question{QuestionID: 1, Answers: []source.Answer{{}}})
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestLaw(t *testing.T) {
	law := source.LawRecord{
		ID:                    2000001,
		PublicationDate:       ptr("1999-01-01"),
		LatestPublicationDate: ptr("2020-01-01"),
		LawValidityDesc:       ptr("valid"),
		Names:                 []source.LawName{{Name: "A"}, {Name: "B"}},
		Classifications:       []source.LawClassification{{ClassificiationDesc: "tax"}},
		Bindings: []source.LawBinding{
			{
				LawID:           301,
				BindingTypeDesc: ptr("amendment"),
				Detail:          &source.LawDetail{Name: ptr("Bill 301"), PublicationDate: ptr("2005-05-05")},
				Document:        source.NewDocumentLink("http://docs/301.pdf"),
			},
			{LawID: 302},
		},
	}

	b, err := Law(law, "")
	require.NoError(t, err)
	assert.Equal(t, 1, countLabels(b)[graph.LabelLaw])
	assert.Equal(t, 2, countLabels(b)[graph.LabelAmendment])
	require.Len(t, b.Rels, 2)

	parent := b.Nodes[0]
	assert.Equal(t, "A, B", parent.Refresh["names"])
	assert.Equal(t, []string{"tax"}, parent.Refresh["classifications"])
	assert.Equal(t, DefaultLawLinkBase+"?t=lawlaws&st=lawlaws&lawitemid=2000001", parent.Refresh["link"])

	withDoc := b.Nodes[1]
	assert.Equal(t, "Bill 301", withDoc.Refresh["name"])
	assert.Equal(t, "http://docs/301.pdf", withDoc.Refresh["link"])
	require.NotNil(t, withDoc.Document)
	assert.Equal(t, "http://docs/301.pdf", withDoc.Document.Link)
	assert.Equal(t, map[string]any{"date": "2005-05-05"}, b.Rels[0].Props)

	missing := b.Nodes[2]
	assert.Equal(t, NoData, missing.Refresh["name"])
	assert.Equal(t, NoData, missing.Refresh["publication_date"])
	assert.Equal(t, NoLink, missing.Refresh["link"])
	require.NotNil(t, missing.Document)
	assert.Empty(t, missing.Document.Link)
	assert.NotContains(t, missing.Refresh, "type")
	assert.Equal(t, int64(302), b.Rels[1].From.Key)
	assert.Equal(t, int64(2000001), b.Rels[1].To.Key)
}
