package graph

import (
	"fmt"
	"strings"
)

// CypherDialect renders statements for Neo4j 5.
type CypherDialect struct{}

func (CypherDialect) Name() string { return "cypher" }

func (CypherDialect) Bootstrap(int) []string { return nil }

func (CypherDialect) UniqueConstraint(label Label, property string) string {
	name := strings.ToLower(string(label)) + "_" + property
	return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE", name, label, property)
}

func (CypherDialect) VectorIndex(spec VectorIndexSpec, dimension int) string {
	return fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s) "+
		"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
		spec.Name, spec.Label, spec.Property, dimension)
}

func (CypherDialect) VectorIndexDimensions() string {
	return `SHOW INDEXES YIELD name, type, options
WHERE type = 'VECTOR' AND name IN $names
RETURN name, options.indexConfig['vector.dimensions'] AS dimension`
}

func (CypherDialect) UpsertNodes(label Label) string {
	key := label.KeyProperty()
	return fmt.Sprintf(`UNWIND $rows AS row
OPTIONAL MATCH (existing:%[1]s {%[2]s: row.key})
WITH row, existing IS NULL AS isNew
MERGE (n:%[1]s {%[2]s: row.key})
ON CREATE SET n += row.create_props
SET n += row.refresh_props
FOREACH (_ IN CASE WHEN row.embedding IS NULL THEN [] ELSE [1] END | SET n.embedding = row.embedding)
RETURN sum(CASE WHEN isNew THEN 1 ELSE 0 END) AS created,
       sum(CASE WHEN isNew THEN 0 ELSE 1 END) AS updated`, label, key)
}

func (CypherDialect) UpsertRelationships(t RelType, ends Endpoints) string {
	return fmt.Sprintf(`UNWIND $rows AS row
MATCH (a:%s {%s: row.from_key})
MATCH (b:%s {%s: row.to_key})
MERGE (a)-[r:%s]->(b)
SET r += row.props
RETURN count(r) AS written`,
		ends.From, ends.From.KeyProperty(), ends.To, ends.To.KeyProperty(), t)
}

func (CypherDialect) NodeCounts() string {
	return `MATCH (n) UNWIND labels(n) AS label RETURN label, count(*) AS count`
}

func (CypherDialect) RelationshipCounts() string {
	return `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`
}

func (CypherDialect) EmbeddingMismatches() string {
	return `MATCH (n) WHERE n.embedding IS NOT NULL AND size(n.embedding) <> $dimension RETURN count(n) AS count`
}

func (CypherDialect) NearestNeighbours(spec VectorIndexSpec) string {
	return fmt.Sprintf(`CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node, score
RETURN node.%s AS key, score`, spec.Label.KeyProperty())
}
