// Command opal runs and operates the product image pipeline.
//
// Worker processes:
//
//	opal daemon              every stage lane plus the health/status API
//	opal run [stage...]      selected stage lanes; --once drains the queues and exits
//
// Operator commands:
//
//	opal submit              create a job from local images and enqueue it
//	opal job list|show|retry inspect jobs or re-enqueue failed items
//	opal queue stats|dead|purge
//	opal notify test         publish a test event to every export sink
//	opal doctor              run the preflight checks
//	opal config init|validate
//
// Stage names for run are coordinator, bg-removal, scene-gen, upscale, export.
package main
