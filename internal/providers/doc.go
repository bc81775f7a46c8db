// Package providers implements the image transformations behind the
// background removal, scene generation, and upscale stages.
//
// A Registry maps configured provider names to factories. Local providers
// (chromakey, studio, lanczos) run on github.com/disintegration/imaging;
// removebg and the http scene provider call remote services and classify
// their failures through services.HTTPStatusError so the pipeline can tell
// retryable errors from permanent ones. Providers are built once per
// process, initialise lazily, and are shared across concurrent handlers.
package providers
