package warehouse

// MartsSchema holds the analytics-ready tables built by the external SQL
// transform project from the raw tables. Nothing in this repository writes
// them; the analytics API only reads them.
const MartsSchema = "marts"

// Mart tables guaranteed by the transform project.
//
//	fct_messages(message_id, channel_key, message_text, timestamp)
//	dim_channels(channel_key, channel_name)
//	fct_image_detections(message_id, date_key, detected_class, confidence_score, image_category)
var (
	FctMessages        = Table{Schema: MartsSchema, Name: "fct_messages"}
	DimChannels        = Table{Schema: MartsSchema, Name: "dim_channels"}
	FctImageDetections = Table{Schema: MartsSchema, Name: "fct_image_detections"}
)
