package ingestion

import "github.com/aws-samples/amazon-ecr-ingestion-demo/id"

// ID is the identifier type shared by executions, records and triggers.
type ID = id.ID
