package synth

// JSON schemas for the structured responses of every synthesis task. The
// substrate validates each response against its schema before the payload
// reaches the parsers in this package.

const clusterSchema = `{
  "type": "object",
  "required": ["clusters"],
  "properties": {
    "clusters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "label", "members"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "label": {"type": "string"},
          "members": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["index"],
              "properties": {
                "index": {"type": "integer", "minimum": 0},
                "relevance": {"type": "number", "minimum": 0, "maximum": 1}
              }
            }
          }
        }
      }
    }
  }
}`

const synthesisSchema = `{
  "type": "object",
  "required": ["part_of_speech", "text"],
  "properties": {
    "part_of_speech": {"type": "string", "minLength": 1},
    "text": {"type": "string", "minLength": 1},
    "synonyms": {"type": "array", "items": {"type": "string"}},
    "antonyms": {"type": "array", "items": {"type": "string"}},
    "examples": {"type": "array", "items": {"type": "string"}}
  }
}`

const pronunciationSchema = `{
  "type": "object",
  "required": ["ipa"],
  "properties": {
    "ipa": {"type": "string", "minLength": 1},
    "phonetic": {"type": "string"}
  }
}`

const etymologySchema = `{
  "type": "object",
  "required": ["etymology"],
  "properties": {
    "etymology": {"type": "string"}
  }
}`

const factsSchema = `{
  "type": "object",
  "required": ["facts"],
  "properties": {
    "facts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["content", "category"],
        "properties": {
          "content": {"type": "string", "minLength": 1},
          "category": {
            "type": "string",
            "enum": ["general", "technical", "cultural", "scientific", "etymology", "usage"]
          }
        }
      }
    }
  }
}`
