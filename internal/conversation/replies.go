package conversation

// Outbound reply templates. Every state-machine path resolves to one of
// these; no raw error text ever reaches the customer.
const (
	replyAskDate           = "What day works best for you? You can say something like \"tomorrow\", \"Friday\", or \"June 12\"."
	replyDateNotUnderstood = "Sorry, I didn't catch that date. Could you try again? Something like \"tomorrow\" or \"June 12\" works."
	replyTimeNotUnderstood = "Sorry, I didn't catch that. Reply with the number of the time you'd like, or the time itself (like \"2:30 PM\")."
	replyOfferHeader       = "Here are the times we have open:"
	replyOfferFooter       = "Reply with a number or a time to pick one."
	replyExactTaken        = "That exact time is already taken."
	replyExactPast         = "That time has already passed."
	replyExactOutsideHours = "We aren't open at that time."
	replyServiceTooLong    = "That service runs longer than our hours for a single day, so I couldn't fit it in. Please call us and we'll sort something out."
	replySlotLost          = "So sorry, that time was just taken."
	replyReselect          = "No problem."
	replyCommitFailed      = "Something went wrong on our end while booking that. Please try again in a moment, or call us directly."
	replyInternalError     = "Sorry, we hit a technical issue. Please try again in a moment, or contact us directly."
)

const (
	replyConfirmFmt        = "Great! %s. Shall I book it? (yes/no)"
	replyConfirmAgainFmt   = "Just to confirm: %s. Reply yes to book it, or no to pick a different time."
	replyBookedFmt         = "You're booked for %s. See you then!"
	replyAlreadyBookedFmt  = "You're already booked for %s. See you then!"
	replyDayClosedFmt      = "We're closed on %s. Is there another day that works?"
	replyDayFullFmt        = "We're fully booked on %s. Is there another day that works?"
	replyNoAvailabilityFmt = "I couldn't find any openings in the next %d days. Is there a later date that works for you?"

	replyAlreadyBookedGeneric = "You're all set! Your appointment is booked."
)
