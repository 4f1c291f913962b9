package composer

import "github.com/kalambet/fitgate/internal/intent"

const fallbackFooter = "\n\nOur AI coaches are temporarily unavailable, so this is general guidance. " +
	"Please try again shortly for a personalized answer."

var fallbacks = map[intent.Category]string{
	intent.Exercise: `**General Exercise Guidance:**
- Warm up for 5-10 minutes before training
- Start with compound movements: squats, push-ups, rows, lunges
- Aim for 2-3 sets of 8-12 reps with controlled tempo
- Rest 48 hours before training the same muscle group hard again
- Stop if you feel sharp pain and consult a professional`,
	intent.Nutrition: `**General Nutrition Guidance:**
- Build meals around lean protein, vegetables, whole grains, and healthy fats
- Aim for roughly 1.6-2.2 g of protein per kg of body weight when training
- Drink water throughout the day, more around workouts
- Prefer whole foods over heavily processed options
- Consult a registered dietitian for medical dietary needs`,
	intent.Health: `**General Health Guidance:**
- Aim for 7-9 hours of sleep per night
- Manage stress with regular movement and downtime
- Treat persistent pain, swelling, or numbness as a reason to see a clinician
- Keep up with routine health checks
- Seek emergency care for chest pain, fainting, or severe symptoms`,
	intent.MentalHealth: `**General Mental Wellness Guidance:**
- Try box breathing: 4 counts in, 4 hold, 4 out, 4 hold
- Regular exercise, even a short walk, can lift mood
- Keep a consistent sleep schedule
- Reach out to someone you trust
- If you are in crisis, contact local emergency services or a crisis line right away

I am not a replacement for professional mental health care.`,
	intent.FormCorrection: `**General Form Guidance:**
- Brace your core and keep a neutral spine
- Control the lowering phase of every rep
- Use a load that lets you finish every rep with good technique
- Film a set from the side to check your positions
- Reduce range of motion or load if a movement causes pain`,
	intent.WorkoutPlanning: `**General Programming Guidance:**
- Train each muscle group about twice per week
- Add reps or load gradually, around 2-5% per week
- Plan at least one or two rest days weekly
- Deload with lighter volume every 4-6 weeks
- Keep the plan consistent for several weeks before changing it`,
}

// Fallback returns the built-in answer for a category, used when every
// provider fails. It is deterministic for a given category.
func Fallback(cat intent.Category) string {
	body, ok := fallbacks[cat]
	if !ok {
		body = fallbacks[intent.Exercise]
	}
	return body + fallbackFooter
}
